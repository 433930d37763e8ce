// Package claims decodes the caller's signed token and validates its claims
// against the requested operation and against the document content.
// Signature verification happens upstream at the perimeter; this package
// works on the decoded payload.
package claims

import (
	"github.com/golang-jwt/jwt/v5"
)

// Payload is the decoded token payload. Immutable once decoded; produced
// once per request.
type Payload struct {
	jwt.RegisteredClaims

	SubjectOrganizationID string `json:"subject_organization_id"`
	SubjectOrganization   string `json:"subject_organization"`
	Locality              string `json:"locality"`
	SubjectRole           string `json:"subject_role"`
	PersonID              string `json:"person_id"`
	PatientConsent        bool   `json:"patient_consent"`
	PurposeOfUse          string `json:"purpose_of_use"`
	ResourceHL7Type       string `json:"resource_hl7_type"`
	ActionID              string `json:"action_id"`
	AttachmentHash        string `json:"attachment_hash"`
	ApplicationID         string `json:"subject_application_id"`
	ApplicationVendor     string `json:"subject_application_vendor"`
	ApplicationVersion    string `json:"subject_application_version"`
}

// Operation is the gateway operation the token must authorize.
type Operation string

const (
	OpCreate   Operation = "CREATE"
	OpUpdate   Operation = "UPDATE"
	OpDelete   Operation = "DELETE"
	OpReplace  Operation = "REPLACE"
	OpValidate Operation = "VALIDATE"
)

// Purpose-of-use vocabulary. Treated as an opaque validated set.
const (
	PurposeTreatment = "TREATMENT"
	PurposeUpdate    = "UPDATE"
	PurposeEmergency = "EMERGENCY"
	PurposeSysAdmin  = "SYSADMIN"
)

var validPurposes = map[string]bool{
	PurposeTreatment: true,
	PurposeUpdate:    true,
	PurposeEmergency: true,
	PurposeSysAdmin:  true,
}

// Action vocabulary.
const (
	ActionCreate = "CREATE"
	ActionRead   = "READ"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

var validActions = map[string]bool{
	ActionCreate: true,
	ActionRead:   true,
	ActionUpdate: true,
	ActionDelete: true,
}

var validRoles = map[string]bool{
	"AAS": true, "APR": true, "PSS": true, "INF": true,
	"FAR": true, "DSA": true, "RSA": true, "MRP": true,
}

// Subject organizations: authority code paired with its description.
// Coherence between the two claim fields is enforced.
var organizations = map[string]string{
	"010": "Regione Piemonte",
	"020": "Regione Valle d'Aosta",
	"030": "Regione Lombardia",
	"050": "Regione Veneto",
	"060": "Regione Friuli Venezia Giulia",
	"070": "Regione Liguria",
	"080": "Regione Emilia Romagna",
	"090": "Regione Toscana",
	"100": "Regione Umbria",
	"110": "Regione Marche",
	"120": "Regione Lazio",
	"130": "Regione Abruzzo",
	"150": "Regione Campania",
	"160": "Regione Puglia",
	"180": "Regione Calabria",
	"190": "Regione Siciliana",
	"200": "Regione Sardegna",
}
