package claims

import (
	"fmt"
	"regexp"

	"github.com/medgate/dispatcher/internal/domain/outcome"
)

// rule binds an operation to its required purpose/action pair.
type rule struct {
	purpose       string
	action        string
	checkLocality bool
}

// The closed dispatch table over operations. Exhaustive: Validator rejects
// operations outside it.
var rules = map[Operation]rule{
	OpValidate: {purpose: PurposeTreatment, action: ActionCreate},
	OpCreate:   {purpose: PurposeTreatment, action: ActionCreate, checkLocality: true},
	OpReplace:  {purpose: PurposeUpdate, action: ActionUpdate, checkLocality: true},
	OpUpdate:   {purpose: PurposeUpdate, action: ActionUpdate},
	OpDelete:   {purpose: PurposeUpdate, action: ActionDelete},
}

// localityRe matches the organization-name + authority triple the claims
// must carry: NAME^^^^^&OID&ISO^^^^CODE.
var localityRe = regexp.MustCompile(`^[^^&]+\^\^\^\^\^&[0-9.]+&ISO\^\^\^\^[^^]+$`)

// Validator checks token payloads against the per-operation rules.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

func invalidField(instance, detail string) *outcome.Problem {
	return outcome.NewProblem(outcome.KindClaims,
		outcome.TypeInvalidTokenField, "Campo token JWT non valido.",
		instance, detail)
}

func missingField(field string) *outcome.Problem {
	return outcome.NewProblem(outcome.KindClaims,
		outcome.TypeInvalidTokenField, "Campo token JWT non valido.",
		outcome.InstanceMissingJWTField, fmt.Sprintf("missing mandatory claim %s", field))
}

// ValidateForOperation verifies that p authorizes op. Each operation has its
// own required purpose/action pair; the mismatch detail names the operation
// so callers can tell the rejections apart.
func (v *Validator) ValidateForOperation(p *Payload, op Operation) error {
	r, ok := rules[op]
	if !ok {
		return invalidField(outcome.InstanceMalformedJWTField,
			fmt.Sprintf("unexpected operation %s", op))
	}

	if err := v.checkMandatory(p); err != nil {
		return err
	}
	if err := v.checkVocabularies(p); err != nil {
		return err
	}

	if p.PurposeOfUse != r.purpose {
		return invalidField(outcome.InstanceMalformedJWTField,
			fmt.Sprintf("purpose of use %q not allowed for %s", p.PurposeOfUse, op))
	}
	if p.ActionID != r.action {
		return invalidField(outcome.InstanceMalformedJWTField,
			fmt.Sprintf("action %q not allowed for %s", p.ActionID, op))
	}

	if r.checkLocality && !v.IsValidLocality(p.Locality) {
		return invalidField(outcome.InstanceMalformedJWTField, "malformed locality claim")
	}
	return nil
}

func (v *Validator) checkMandatory(p *Payload) error {
	switch {
	case p.Issuer == "":
		return missingField("iss")
	case p.Subject == "":
		return missingField("sub")
	case p.PurposeOfUse == "":
		return missingField("purpose_of_use")
	case p.ActionID == "":
		return missingField("action_id")
	case p.SubjectRole == "":
		return missingField("subject_role")
	case p.SubjectOrganizationID == "":
		return missingField("subject_organization_id")
	case p.SubjectOrganization == "":
		return missingField("subject_organization")
	case p.PersonID == "":
		return missingField("person_id")
	}
	return nil
}

func (v *Validator) checkVocabularies(p *Payload) error {
	if !validPurposes[p.PurposeOfUse] {
		return invalidField(outcome.InstanceMalformedJWTField,
			fmt.Sprintf("unknown purpose of use %q", p.PurposeOfUse))
	}
	if !validActions[p.ActionID] {
		return invalidField(outcome.InstanceMalformedJWTField,
			fmt.Sprintf("unknown action %q", p.ActionID))
	}
	if !validRoles[p.SubjectRole] {
		return invalidField(outcome.InstanceMalformedJWTField,
			fmt.Sprintf("unknown subject role %q", p.SubjectRole))
	}

	descr, ok := organizations[p.SubjectOrganizationID]
	if !ok {
		return invalidField(outcome.InstanceMalformedJWTField,
			fmt.Sprintf("unknown subject organization id %q", p.SubjectOrganizationID))
	}
	if descr != p.SubjectOrganization {
		return invalidField(outcome.InstanceMalformedJWTField,
			"subject organization does not match its authority code")
	}

	if !IsValidFiscalCode(p.Subject) {
		return invalidField(outcome.InstanceMalformedJWTField,
			"subject is not a well-formed fiscal code")
	}
	return nil
}

// IsValidLocality reports whether locality matches the required structural
// pattern.
func (v *Validator) IsValidLocality(locality string) bool {
	return localityRe.MatchString(locality)
}
