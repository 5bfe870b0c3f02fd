package models

// EntityType identifies a domain entity kind that can be synchronized
// from a mobile device. Only registered types participate in sync.
type EntityType string

const (
	EntityStudent      EntityType = "student"
	EntityGuardian     EntityType = "guardian"
	EntityMedication   EntityType = "medication"
	EntityDocument     EntityType = "document"
	EntityAppointment  EntityType = "appointment"
	EntityNotification EntityType = "notification"
)

// EntityDescriptor describes how an entity type takes part in conflict
// detection. ConflictFields lists the payload fields compared against
// server state; an empty list means the whole payload is compared.
// WatermarkKey is the key under which the per-device cursor is tracked.
type EntityDescriptor struct {
	Type           EntityType
	ConflictFields []string
	WatermarkKey   string
}

var entityRegistry = map[EntityType]EntityDescriptor{
	EntityStudent: {
		Type:           EntityStudent,
		ConflictFields: []string{"first_name", "last_name", "date_of_birth", "grade", "status"},
		WatermarkKey:   "students",
	},
	EntityGuardian: {
		Type:           EntityGuardian,
		ConflictFields: []string{"first_name", "last_name", "phone", "email", "relationship"},
		WatermarkKey:   "guardians",
	},
	EntityMedication: {
		Type:           EntityMedication,
		ConflictFields: []string{"name", "dosage", "frequency", "start_date", "end_date", "instructions"},
		WatermarkKey:   "medications",
	},
	EntityDocument: {
		Type:           EntityDocument,
		ConflictFields: []string{"title", "category", "content_hash", "status"},
		WatermarkKey:   "documents",
	},
	EntityAppointment: {
		Type:           EntityAppointment,
		ConflictFields: []string{"scheduled_at", "location", "provider", "status", "notes"},
		WatermarkKey:   "appointments",
	},
	EntityNotification: {
		Type: EntityNotification,
		// Notifications are append-only on the client; compare everything.
		ConflictFields: nil,
		WatermarkKey:   "notifications",
	},
}

// LookupEntity returns the descriptor for an entity type.
func LookupEntity(t EntityType) (EntityDescriptor, bool) {
	desc, ok := entityRegistry[t]
	return desc, ok
}

// KnownEntityTypes returns every registered entity type.
func KnownEntityTypes() []EntityType {
	types := make([]EntityType, 0, len(entityRegistry))
	for t := range entityRegistry {
		types = append(types, t)
	}
	return types
}
