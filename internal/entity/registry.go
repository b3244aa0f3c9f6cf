// Package entity holds the static registry of UCM entity types: which phase
// they belong to, which AXL operations fetch them and how their records are
// keyed once normalized.
package entity

import (
	"errors"
	"fmt"

	"ucm-sync/internal/models"
)

var ErrUnknownEntityType = errors.New("unknown entity type")

// Derivation produces records of another entity type from a fetched record,
// e.g. the line appearances embedded in a phone.
type Derivation struct {
	Type   models.EntityType
	Derive func(parent models.RawRecord) []models.RawRecord
}

// Descriptor describes how one entity type is pulled and stored.
type Descriptor struct {
	Type  models.EntityType
	Phase models.Phase

	// ListOperation is the AXL list request, e.g. listRoutePartition. Ignored
	// when SQL is set.
	ListOperation string
	// GetOperation, when set, is issued per listed record to fetch details
	// missing from the list response.
	GetOperation string
	// ResultTag is the element name of one record inside <return>.
	ResultTag    string
	SearchField  string
	ReturnedTags []string
	// SQL replaces the list operation with executeSQLQuery. Results are not
	// paginated.
	SQL string

	KeyFields []string
	NameField string

	Derived *Derivation
}

// Paginated reports whether list results come in pages.
func (d *Descriptor) Paginated() bool {
	return d.SQL == ""
}

// HasDetail reports whether the list+get fan-out applies.
func (d *Descriptor) HasDetail() bool {
	return d.GetOperation != ""
}

func uuidKeyed(entityType models.EntityType, phase models.Phase, resource, searchField string, returnedTags ...string) *Descriptor {
	return &Descriptor{
		Type:          entityType,
		Phase:         phase,
		ListOperation: "list" + upperFirst(resource),
		ResultTag:     resource,
		SearchField:   searchField,
		ReturnedTags:  returnedTags,
		KeyFields:     []string{"uuid"},
		NameField:     toSnakeCase(searchField),
	}
}

func withDetail(d *Descriptor) *Descriptor {
	d.GetOperation = "get" + upperFirst(d.ResultTag)
	return d
}

func sqlKeyed(entityType models.EntityType, query string, keyField string) *Descriptor {
	return &Descriptor{
		Type:      entityType,
		Phase:     models.PhaseInfra,
		ResultTag: "row",
		SQL:       query,
		KeyFields: []string{keyField},
		NameField: "name",
	}
}

//nolint:gochecknoglobals
var (
	infraOrder = []models.EntityType{
		models.EntityRecordingProfiles,
		models.EntityVoicemailProfiles,
		models.EntityPhoneModels,
		models.EntitySoftkeyTemplates,
		models.EntityRoutePartitions,
		models.EntityCallingSearchSpaces,
		models.EntityDevicePools,
		models.EntityServiceProfiles,
		models.EntitySipProfiles,
		models.EntityLocations,
		models.EntityCallPickupGroups,
		models.EntityCommonPhoneConfigs,
		models.EntityLineGroups,
		models.EntityUcmUsers,
		models.EntityPhoneButtonTemplates,
		models.EntityUcmRoles,
	}

	servicesOrder = []models.EntityType{
		models.EntityPhones,
		models.EntityLines,
		models.EntityRemoteDestinations,
		models.EntityDeviceProfiles,
	}

	registry = buildRegistry()
)

func buildRegistry() map[models.EntityType]*Descriptor {
	descriptors := []*Descriptor{
		uuidKeyed(models.EntityRecordingProfiles, models.PhaseInfra, "recordingProfile", "name",
			"name", "recordingCssName", "recorderDestination"),
		uuidKeyed(models.EntityVoicemailProfiles, models.PhaseInfra, "voiceMailProfile", "name",
			"name", "description", "isDefault", "voiceMailPilot"),
		sqlKeyed(models.EntityPhoneModels,
			"SELECT enum, name, moniker FROM typemodel ORDER BY enum", "enum"),
		uuidKeyed(models.EntitySoftkeyTemplates, models.PhaseInfra, "softKeyTemplate", "name",
			"name", "description", "isStandard"),
		uuidKeyed(models.EntityRoutePartitions, models.PhaseInfra, "routePartition", "name",
			"name", "description", "timeScheduleIdName"),
		uuidKeyed(models.EntityCallingSearchSpaces, models.PhaseInfra, "css", "name",
			"name", "description", "clause"),
		uuidKeyed(models.EntityDevicePools, models.PhaseInfra, "devicePool", "name",
			"name", "callManagerGroupName", "dateTimeSettingName", "regionName", "locationName"),
		uuidKeyed(models.EntityServiceProfiles, models.PhaseInfra, "serviceProfile", "name",
			"name", "description", "isDefault"),
		uuidKeyed(models.EntitySipProfiles, models.PhaseInfra, "sipProfile", "name",
			"name", "description", "defaultTelephonyEventPayloadType"),
		uuidKeyed(models.EntityLocations, models.PhaseInfra, "location", "name",
			"name", "withinAudioBandwidth", "withinVideoBandwidth"),
		uuidKeyed(models.EntityCallPickupGroups, models.PhaseInfra, "callPickupGroup", "name",
			"name", "pattern", "description", "routePartitionName"),
		uuidKeyed(models.EntityCommonPhoneConfigs, models.PhaseInfra, "commonPhoneConfig", "name",
			"name", "description", "unlockPwd"),
		uuidKeyed(models.EntityLineGroups, models.PhaseInfra, "lineGroup", "name",
			"name", "distributionAlgorithm", "rnaReversionTimeOut"),
		uuidKeyed(models.EntityUcmUsers, models.PhaseInfra, "user", "userid",
			"userid", "firstName", "lastName", "mailid", "telephoneNumber", "department", "status"),
		uuidKeyed(models.EntityPhoneButtonTemplates, models.PhaseInfra, "phoneButtonTemplate", "name",
			"name", "isUserModifiable"),
		sqlKeyed(models.EntityUcmRoles,
			"SELECT pkid, name, isstandard FROM functionrole ORDER BY name", "pkid"),

		withDetail(uuidKeyed(models.EntityPhones, models.PhaseServices, "phone", "name",
			"name", "description", "product", "model", "devicePoolName", "callingSearchSpaceName")),
		withDetail(uuidKeyed(models.EntityLines, models.PhaseServices, "line", "pattern",
			"pattern", "description", "routePartitionName", "usage")),
		withDetail(uuidKeyed(models.EntityRemoteDestinations, models.PhaseServices, "remoteDestination", "destination",
			"destination", "name", "ownerUserId")),
		withDetail(uuidKeyed(models.EntityDeviceProfiles, models.PhaseServices, "deviceProfile", "name",
			"name", "description", "product", "protocol")),
		phoneLineAssociations(),
	}

	byType := make(map[models.EntityType]*Descriptor, len(descriptors))
	for _, d := range descriptors {
		byType[d.Type] = d
	}
	byType[models.EntityPhones].Derived = &Derivation{
		Type:   models.EntityPhoneLineAssociations,
		Derive: derivePhoneLines,
	}
	return byType
}

// phoneLineAssociations is never listed on its own; its records are derived
// from phone details.
func phoneLineAssociations() *Descriptor {
	return &Descriptor{
		Type:      models.EntityPhoneLineAssociations,
		Phase:     models.PhaseServices,
		KeyFields: []string{"phone_uuid", "index"},
		NameField: "pattern",
	}
}

// Lookup returns the descriptor of an entity type.
func Lookup(entityType models.EntityType) (*Descriptor, error) {
	d, ok := registry[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	return d, nil
}

// InfraTypes returns the infra entity types in a stable order.
func InfraTypes() []models.EntityType {
	return append([]models.EntityType(nil), infraOrder...)
}

// ServiceTypes returns the entity types pulled by the services phase.
func ServiceTypes() []models.EntityType {
	return append([]models.EntityType(nil), servicesOrder...)
}
