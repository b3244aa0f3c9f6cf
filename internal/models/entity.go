package models

// EntityType names one kind of UCM configuration object pulled by a sync unit.
type EntityType string

const (
	EntityRecordingProfiles    EntityType = "recording_profiles"
	EntityVoicemailProfiles    EntityType = "voicemail_profiles"
	EntityPhoneModels          EntityType = "phone_models"
	EntitySoftkeyTemplates     EntityType = "softkey_templates"
	EntityRoutePartitions      EntityType = "route_partitions"
	EntityCallingSearchSpaces  EntityType = "calling_search_spaces"
	EntityDevicePools          EntityType = "device_pools"
	EntityServiceProfiles      EntityType = "service_profiles"
	EntitySipProfiles          EntityType = "sip_profiles"
	EntityLocations            EntityType = "locations"
	EntityCallPickupGroups     EntityType = "call_pickup_groups"
	EntityCommonPhoneConfigs   EntityType = "common_phone_configs"
	EntityLineGroups           EntityType = "line_groups"
	EntityUcmUsers             EntityType = "ucm_users"
	EntityPhoneButtonTemplates EntityType = "phone_button_templates"
	EntityUcmRoles             EntityType = "ucm_roles"

	EntityPhones                EntityType = "phones"
	EntityLines                 EntityType = "lines"
	EntityPhoneLineAssociations EntityType = "phone_line_associations"
	EntityRemoteDestinations    EntityType = "remote_destinations"
	EntityDeviceProfiles        EntityType = "device_profiles"
)

func (e EntityType) String() string {
	return string(e)
}

// Phase is the sync phase an entity type belongs to.
type Phase string

const (
	PhaseInfra    Phase = "infra"
	PhaseServices Phase = "services"
)

// RawRecord is one object as returned by the AXL API: element names map to
// strings, nested RawRecords or slices of either.
type RawRecord map[string]interface{}
