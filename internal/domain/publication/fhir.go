package publication

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"
)

// registryTimePattern is the timestamp format the registry index expects.
const registryTimePattern = "20060102150405"

const missingAuthorInstitution = "AUTHOR_INSTITUTION_NOT_PRESENT"

// Resources is the indexable projection of one accepted document: the
// mapped bundle plus the submission-set and document-entry slots.
type Resources struct {
	Bundle        json.RawMessage `json:"bundleJson,omitempty"`
	SubmissionSet json.RawMessage `json:"submissionSetEntryJson,omitempty"`
	DocumentEntry json.RawMessage `json:"documentEntryJson,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
}

type submissionSetEntry struct {
	Author            string `json:"author,omitempty"`
	AuthorInstitution string `json:"authorInstitution"`
	AuthorRole        string `json:"authorRole,omitempty"`
	PatientID         string `json:"patientId"`
	SourceID          string `json:"sourceId"`
	UniqueID          string `json:"uniqueId"`
	SubmissionTime    string `json:"submissionTime"`
	ContentTypeCode   string `json:"contentTypeCode"`
}

type documentEntry struct {
	PatientID           string   `json:"patientId"`
	ConfidentialityCode string   `json:"confidentialityCode,omitempty"`
	TypeCode            string   `json:"typeCode,omitempty"`
	TypeCodeName        string   `json:"typeCodeName,omitempty"`
	FormatCode          string   `json:"formatCode,omitempty"`
	UniqueID            string   `json:"uniqueId"`
	MimeType            string   `json:"mimeType"`
	CreationTime        string   `json:"creationTime"`
	Hash                string   `json:"hash"`
	Size                int      `json:"size"`
	Author              string   `json:"author,omitempty"`
	AuthorInstitution   string   `json:"authorInstitution"`
	AuthorRole          string   `json:"authorRole,omitempty"`
	RepositoryUniqueID  string   `json:"repositoryUniqueId"`
	FacilityTypeCode    string   `json:"healthcareFacilityTypeCode"`
	EventCodeList       []string `json:"eventCodeList,omitempty"`
	ClassCode           string   `json:"classCode"`
	PracticeSettingCode string   `json:"practiceSettingCode"`
	ServiceStartTime    string   `json:"serviceStartTime,omitempty"`
	ServiceStopTime     string   `json:"serviceStopTime,omitempty"`
}

type documentReference struct {
	EncodedCDA          string   `json:"encodedCDA"`
	Size                int      `json:"size"`
	Hash                string   `json:"hash"`
	FacilityTypeCode    string   `json:"facilityTypeCode"`
	EventCode           []string `json:"eventCode,omitempty"`
	PracticeSettingCode string   `json:"practiceSettingCode"`
	DocumentClass       string   `json:"tipoDocumentoLivAlto"`
	RepositoryUniqueID  string   `json:"repositoryUniqueID"`
	ServiceStartTime    string   `json:"serviceStartTime,omitempty"`
	ServiceStopTime     string   `json:"serviceStopTime,omitempty"`
	DocumentID          string   `json:"identificativoDoc"`
}

// ResourceBuilder assembles the indexable resources for a document by
// combining what the mapping service returns with slots mined from the
// document tree.
type ResourceBuilder struct {
	mapper Mapper
	logger zerolog.Logger
	now    func() time.Time
}

func NewResourceBuilder(mapper Mapper, logger zerolog.Logger) *ResourceBuilder {
	return &ResourceBuilder{
		mapper: mapper,
		logger: logger.With().Str("component", "resource-builder").Logger(),
		now:    time.Now,
	}
}

// Build produces the resources for cda under req. transformID and engineID
// come from the validation record so the mapper replays the same transform.
func (b *ResourceBuilder) Build(ctx context.Context, cda string, req *Request, authorRole, hash, transformID, engineID string) (*Resources, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(cda); err != nil {
		return nil, err
	}
	root := doc.Root()

	ref, err := json.Marshal(&documentReference{
		EncodedCDA:          base64.StdEncoding.EncodeToString([]byte(cda)),
		Size:                len(cda),
		Hash:                hash,
		FacilityTypeCode:    req.FacilityType,
		EventCode:           req.EventCodes,
		PracticeSettingCode: req.PracticeSetting,
		DocumentClass:       string(req.DocumentClass),
		RepositoryUniqueID:  req.RepositoryID,
		ServiceStartTime:    req.ServiceStart,
		ServiceStopTime:     req.ServiceStop,
		DocumentID:          req.DocumentID,
	})
	if err != nil {
		return nil, err
	}

	mapped, err := b.mapper.Map(ctx, &MapRequest{
		CDA:       cda,
		ObjectID:  transformID,
		EngineID:  engineID,
		Reference: ref,
	})
	if err != nil {
		return nil, err
	}
	if mapped.ErrorMessage != "" {
		return &Resources{ErrorMessage: mapped.ErrorMessage}, nil
	}

	author, authorInstitution := b.authorSlots(root)
	patient := b.patientID(root)
	now := b.now().Format(registryTimePattern)

	sse, err := json.Marshal(&submissionSetEntry{
		Author:            author,
		AuthorInstitution: authorInstitution,
		AuthorRole:        authorRole,
		PatientID:         patient,
		SourceID:          b.custodianRoot(root),
		UniqueID:          req.SubmissionSetID,
		SubmissionTime:    now,
		ContentTypeCode:   req.ActivityType,
	})
	if err != nil {
		return nil, err
	}

	entry := &documentEntry{
		PatientID:           patient,
		UniqueID:            req.DocumentID,
		MimeType:            "application/pdf+text/x-cda-r2+xml",
		CreationTime:        now,
		Hash:                hash,
		Size:                len(cda),
		Author:              author,
		AuthorInstitution:   authorInstitution,
		AuthorRole:          authorRole,
		RepositoryUniqueID:  req.RepositoryID,
		FacilityTypeCode:    req.FacilityType,
		EventCodeList:       req.EventCodes,
		ClassCode:           string(req.DocumentClass),
		PracticeSettingCode: req.PracticeSetting,
		ServiceStartTime:    req.ServiceStart,
		ServiceStopTime:     req.ServiceStop,
	}
	if el := childByTag(root, "confidentialityCode"); el != nil {
		entry.ConfidentialityCode = el.SelectAttrValue("code", "")
	}
	if el := childByTag(root, "code"); el != nil {
		entry.TypeCode = el.SelectAttrValue("code", "")
		entry.TypeCodeName = el.SelectAttrValue("displayName", "")
	}
	if el := childByTag(root, "templateId"); el != nil {
		entry.FormatCode = el.SelectAttrValue("root", "")
	}
	de, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	return &Resources{Bundle: mapped.Bundle, SubmissionSet: sse, DocumentEntry: de}, nil
}

// childByTag returns the first direct child with the given tag, matched
// case-insensitively.
func childByTag(el *etree.Element, tag string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, child := range el.ChildElements() {
		if strings.EqualFold(child.Tag, tag) {
			return child
		}
	}
	return nil
}

func descend(el *etree.Element, tags ...string) *etree.Element {
	for _, tag := range tags {
		el = childByTag(el, tag)
		if el == nil {
			return nil
		}
	}
	return el
}

func (b *ResourceBuilder) custodianRoot(root *etree.Element) string {
	id := descend(root, "custodian", "assignedCustodian", "representedCustodianOrganization", "id")
	if id == nil {
		return ""
	}
	return id.SelectAttrValue("root", "")
}

func (b *ResourceBuilder) patientID(root *etree.Element) string {
	id := descend(root, "recordTarget", "patientRole", "id")
	if id == nil {
		return ""
	}
	return id.SelectAttrValue("extension", "") + "^^^&" + id.SelectAttrValue("root", "") + "&ISO"
}

func (b *ResourceBuilder) authorSlots(root *etree.Element) (author, institution string) {
	institution = missingAuthorInstitution
	assigned := descend(root, "author", "assignedAuthor")
	if assigned == nil {
		return "", institution
	}
	if id := childByTag(assigned, "id"); id != nil {
		author = id.SelectAttrValue("extension", "") + "^^^^^^^^&" + id.SelectAttrValue("root", "") + "&ISO"
	}
	org := childByTag(assigned, "representedOrganization")
	if org == nil {
		return author, institution
	}
	id := childByTag(org, "id")
	name := childByTag(org, "name")
	if id != nil && name != nil {
		institution = name.Text() + "^^^^^&" + id.SelectAttrValue("root", "") + "&ISO^^^^" + id.SelectAttrValue("extension", "")
	}
	return author, institution
}
