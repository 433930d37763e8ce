// Package server is the HTTP adapter over the gateway pipeline: multipart
// intake, token extraction and the mapping from pipeline problems to
// transport statuses. No business rule lives here.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medgate/dispatcher/internal/domain/claims"
	"github.com/medgate/dispatcher/internal/domain/events"
	"github.com/medgate/dispatcher/internal/domain/intake"
	"github.com/medgate/dispatcher/internal/domain/outcome"
	"github.com/medgate/dispatcher/internal/domain/publication"
	"github.com/medgate/dispatcher/internal/domain/validation"
)

// ValidationRunner is the slice of the validation orchestrator the handler drives.
type ValidationRunner interface {
	Run(ctx context.Context, cda, wii, issuer string) (*validation.Result, error)
}

// Publisher is the slice of the publication service the handler drives.
type Publisher interface {
	Publish(ctx context.Context, in *publication.Input, event outcome.EventType) (*publication.Result, error)
	Update(ctx context.Context, traceID, idDoc string, metadata *publication.UpdateMetadata, payload *claims.Payload) (*publication.Result, error)
	Delete(ctx context.Context, traceID, idDoc string, payload *claims.Payload) (*publication.Result, error)
}

// StatusEmitter announces validation terminal states on the status topic.
type StatusEmitter interface {
	SendStatus(ctx context.Context, env *events.Envelope) error
}

type Handler struct {
	extractor *intake.Extractor
	claims    *claims.Validator
	validator ValidationRunner
	publisher Publisher
	emitter   StatusEmitter

	tokenHeader    string
	forwardedToken bool
	serviceName    string
	logger         zerolog.Logger
}

func NewHandler(extractor *intake.Extractor, claimsValidator *claims.Validator,
	validator ValidationRunner, publisher Publisher, emitter StatusEmitter,
	tokenHeader string, forwardedToken bool, serviceName string, logger zerolog.Logger) *Handler {
	return &Handler{
		extractor:      extractor,
		claims:         claimsValidator,
		validator:      validator,
		publisher:      publisher,
		emitter:        emitter,
		tokenHeader:    tokenHeader,
		forwardedToken: forwardedToken,
		serviceName:    serviceName,
		logger:         logger.With().Str("component", "server").Logger(),
	}
}

func (h *Handler) RegisterRoutes(v1 *echo.Group) {
	v1.POST("/documents/validation", h.ValidateDocument)
	v1.POST("/documents", h.PublishDocument)
	v1.PUT("/documents/:idDoc", h.ReplaceDocument)
	v1.PUT("/documents/:idDoc/metadata", h.UpdateMetadata)
	v1.DELETE("/documents/:idDoc", h.DeleteDocument)
}

func (h *Handler) decodeToken(c echo.Context) (*claims.Payload, error) {
	token := c.Request().Header.Get(h.tokenHeader)
	if h.forwardedToken {
		return claims.DecodeForwarded(token)
	}
	return claims.Decode(token)
}

// readUpload pulls the multipart file part and the optional requestBody JSON
// part out of the request.
func readUpload(c echo.Context) (file []byte, requestBody string, err error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, "", outcome.NewProblem(outcome.KindExtraction,
			outcome.TypeEmptyFile, "File mancante o vuoto.",
			outcome.InstanceEmptyFile, "the multipart file part is missing").WithCause(err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", outcome.NewProblem(outcome.KindExtraction,
			outcome.TypeEmptyFile, "File mancante o vuoto.",
			outcome.InstanceEmptyFile, err.Error()).WithCause(err)
	}
	defer f.Close()
	file, err = io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	return file, c.FormValue("requestBody"), nil
}

func traceID(c echo.Context) string {
	rid, _ := c.Get("request_id").(string)
	return rid
}

func bindRequestBody(body string, out any) error {
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return outcome.NewProblem(outcome.KindExtraction,
			outcome.TypeFormatElement, "Formato richiesta non valido.",
			outcome.InstanceMissingMandatory, err.Error()).WithCause(err)
	}
	return nil
}

// upload is one parsed multipart intake: the decoded token, the raw
// container, the extracted document and the requestBody JSON part.
type upload struct {
	payload *claims.Payload
	file    []byte
	cda     string
	body    string
}

// intakeDocument runs the steps every upload shares: token decode, claims
// validation for the operation, attachment integrity, extraction and the
// claims/document cross-checks.
func (h *Handler) intakeDocument(c echo.Context, op claims.Operation) (*upload, error) {
	payload, err := h.decodeToken(c)
	if err != nil {
		return nil, err
	}
	if err := h.claims.ValidateForOperation(payload, op); err != nil {
		return nil, err
	}

	file, body, err := readUpload(c)
	if err != nil {
		return nil, err
	}
	if !claims.AttachmentHashMatches(payload, file) {
		return nil, claims.AttachmentHashMismatch()
	}

	cda, err := h.extractor.Extract(file, intake.ModeAuto)
	if err != nil {
		return nil, err
	}
	if err := h.claims.CrossCheck(payload, []byte(cda)); err != nil {
		return nil, err
	}
	return &upload{payload: payload, file: file, cda: cda, body: body}, nil
}

func (h *Handler) sendValidationStatus(ctx context.Context, wii string, payload *claims.Payload, status outcome.EventStatus, message string) {
	env := &events.Envelope{
		TraceID:            wii,
		WorkflowInstanceID: wii,
		EventType:          outcome.EventValidation,
		EventStatus:        status,
		Issuer:             claims.MissingIssuerPlaceholder,
		Message:            message,
	}
	if payload != nil {
		env.Issuer = payload.Issuer
		env.Subject = payload.Subject
		env.Organization = payload.SubjectOrganizationID
	}
	if err := h.emitter.SendStatus(ctx, env); err != nil {
		h.logger.Error().Err(err).Str("workflow_instance_id", wii).
			Msg("status event send failed")
	}
}

// ValidateDocument handles POST /v1/documents/validation.
func (h *Handler) ValidateDocument(c echo.Context) error {
	ctx := c.Request().Context()

	up, err := h.intakeDocument(c, claims.OpValidate)
	if err != nil {
		return err
	}

	wii := publication.NewWorkflowInstanceID(up.cda)
	c.Set("workflow_instance_id", wii)

	res, err := h.validator.Run(ctx, up.cda, wii, up.payload.Issuer)
	if err != nil {
		h.sendValidationStatus(ctx, wii, up.payload, outcome.StatusBlockingError, err.Error())
		return err
	}

	h.sendValidationStatus(ctx, wii, up.payload, outcome.StatusSuccess, "Validazione effettuata correttamente")
	return c.JSON(http.StatusCreated, map[string]string{
		"workflowInstanceId": res.WorkflowInstanceID,
		"warning":            res.Warning,
	})
}

func (h *Handler) publish(c echo.Context, op claims.Operation, event outcome.EventType) error {
	ctx := c.Request().Context()

	up, err := h.intakeDocument(c, op)
	if err != nil {
		return err
	}

	req := &publication.Request{}
	if up.body != "" {
		if err := bindRequestBody(up.body, req); err != nil {
			return err
		}
	}
	if idDoc := c.Param("idDoc"); idDoc != "" {
		req.DocumentID = idDoc
	}

	// The workflow id is optional on publication: when the caller omits it
	// the workflow resolves the one recorded at validation time by hash.
	wii := req.WorkflowInstanceID
	if wii != "" {
		c.Set("workflow_instance_id", wii)
	}

	res, err := h.publisher.Publish(ctx, &publication.Input{
		CDA:                up.cda,
		Raw:                up.file,
		WorkflowInstanceID: wii,
		TraceID:            traceID(c),
		Claims:             up.payload,
		Request:            req,
	}, event)
	if err != nil {
		return err
	}
	c.Set("workflow_instance_id", res.WorkflowInstanceID)
	return c.JSON(http.StatusCreated, res)
}

// PublishDocument handles POST /v1/documents.
func (h *Handler) PublishDocument(c echo.Context) error {
	return h.publish(c, claims.OpCreate, outcome.EventPublication)
}

// ReplaceDocument handles PUT /v1/documents/:idDoc.
func (h *Handler) ReplaceDocument(c echo.Context) error {
	return h.publish(c, claims.OpReplace, outcome.EventReplace)
}

// UpdateMetadata handles PUT /v1/documents/:idDoc/metadata.
func (h *Handler) UpdateMetadata(c echo.Context) error {
	payload, err := h.decodeToken(c)
	if err != nil {
		return err
	}
	if err := h.claims.ValidateForOperation(payload, claims.OpUpdate); err != nil {
		return err
	}

	metadata := &publication.UpdateMetadata{}
	if err := c.Bind(metadata); err != nil {
		return outcome.NewProblem(outcome.KindExtraction,
			outcome.TypeFormatElement, "Formato richiesta non valido.",
			outcome.InstanceMissingMandatory, err.Error()).WithCause(err)
	}

	res, err := h.publisher.Update(c.Request().Context(), traceID(c), c.Param("idDoc"), metadata, payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// DeleteDocument handles DELETE /v1/documents/:idDoc.
func (h *Handler) DeleteDocument(c echo.Context) error {
	payload, err := h.decodeToken(c)
	if err != nil {
		return err
	}
	if err := h.claims.ValidateForOperation(payload, claims.OpDelete); err != nil {
		return err
	}

	res, err := h.publisher.Delete(c.Request().Context(), traceID(c), c.Param("idDoc"), payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
