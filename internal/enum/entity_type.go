package enum

type EntityType string

const (
	BACKEND EntityType = "BACKEND"
	FOLDER  EntityType = "FOLDER"
)

func (entityType EntityType) String() string {
	return string(entityType)
}

