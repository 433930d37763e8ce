package claims

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/medgate/dispatcher/internal/domain/outcome"
)

// exemptAuthority identifies patient ids issued by the transitional national
// authority; codes under it carry no verifiable fiscal structure.
const exemptAuthority = "2.16.840.1.113883.2.9.4.3.7"

func docTypeMismatch(detail string) *outcome.Problem {
	return outcome.NewProblem(outcome.KindClaims,
		outcome.TypeInvalidTokenField, "Campo token JWT non valido.",
		outcome.InstanceDocTypeMismatch, detail)
}

func personIDMismatch(detail string) *outcome.Problem {
	return outcome.NewProblem(outcome.KindClaims,
		outcome.TypeInvalidTokenField, "Campo token JWT non valido.",
		outcome.InstancePersonIDMismatch, detail)
}

// findByTag walks the tree depth-first for the first element whose tag
// matches case-insensitively, ignoring namespace prefixes.
func findByTag(el *etree.Element, tag string) *etree.Element {
	if strings.EqualFold(el.Tag, tag) {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findByTag(child, tag); found != nil {
			return found
		}
	}
	return nil
}

// CrossCheck verifies that the token payload is consistent with the document
// it accompanies: the declared HL7 resource type must match the document's
// code element, and the person id must match one of the patient identifiers.
func (v *Validator) CrossCheck(p *Payload, cda []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(cda); err != nil {
		return docTypeMismatch("unable to parse the clinical document").WithCause(err)
	}
	root := doc.Root()
	if root == nil {
		return docTypeMismatch("unable to parse the clinical document")
	}
	if err := v.checkResourceType(p, root); err != nil {
		return err
	}
	return v.checkPersonID(p, root)
}

func (v *Validator) checkResourceType(p *Payload, root *etree.Element) error {
	code := findByTag(root, "code")
	if code == nil {
		return docTypeMismatch("document carries no code element to verify against")
	}
	hl7Type := fmt.Sprintf("('%s^^%s')",
		code.SelectAttrValue("code", ""), code.SelectAttrValue("codeSystem", ""))
	if hl7Type != p.ResourceHL7Type {
		return docTypeMismatch(
			fmt.Sprintf("declared resource type %s does not match document code %s",
				p.ResourceHL7Type, hl7Type))
	}
	return nil
}

func (v *Validator) checkPersonID(p *Payload, root *etree.Element) error {
	role := findByTag(root, "patientrole")
	if role == nil {
		return personIDMismatch("document carries no patient identifier to verify against")
	}

	// extension -> issuing authority, over every patient id in the document
	authorities := map[string]string{}
	for _, child := range role.ChildElements() {
		if strings.EqualFold(child.Tag, "id") {
			authorities[child.SelectAttrValue("extension", "")] = child.SelectAttrValue("root", "")
		}
	}

	fiscal := strings.SplitN(p.PersonID, "^", 2)[0]
	authority, ok := authorities[fiscal]
	if !ok || authority == "" {
		return personIDMismatch("person id does not match any patient identifier in the document")
	}

	if authority != exemptAuthority && !IsValidFiscalCode(fiscal) {
		return invalidField(outcome.InstanceMalformedJWTField,
			"person_id is not a well-formed fiscal code")
	}
	return nil
}
