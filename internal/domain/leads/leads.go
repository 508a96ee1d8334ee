// Package leads turns a sales enquiry from the app into CRM records. The
// CRM has no transactions: records are created one after another
// (account, contact, lead, note) and a failure part way leaves the earlier
// records in place. StepError reports exactly what was created.
package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Togather-Foundation/safetynow/internal/sanitize"
	"github.com/rs/zerolog"
)

var ErrMissingFields = errors.New("missing required fields")

// Step names a stage of lead creation.
type Step string

const (
	StepAccount Step = "account"
	StepContact Step = "contact"
	StepLead    Step = "lead"
	StepNote    Step = "note"
)

type Input struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Company   string `json:"company"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Plan      string `json:"plan"`
}

type AccountParams struct {
	Name  string
	Email string
	Phone string
}

type ContactParams struct {
	Name      string
	Email     string
	Phone     string
	AccountID string
}

type LeadParams struct {
	Description string
	AccountID   string
	ContactID   string
}

// CRM creates records in the upstream CRM and returns their ids.
type CRM interface {
	CreateAccount(ctx context.Context, params AccountParams) (string, error)
	CreateContact(ctx context.Context, params ContactParams) (string, error)
	CreateLead(ctx context.Context, params LeadParams) (string, error)
	CreateNote(ctx context.Context, leadID, body string) (string, error)
}

// MissingFieldsError lists the required fields that were empty.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "Missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *MissingFieldsError) Unwrap() error {
	return ErrMissingFields
}

// StepError reports the step that failed and the ids created before it.
type StepError struct {
	Step       Step
	CreatedIDs map[Step]string
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("crm %s creation failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type Service struct {
	crm    CRM
	logger zerolog.Logger
}

func NewService(crm CRM, logger zerolog.Logger) *Service {
	return &Service{
		crm:    crm,
		logger: logger.With().Str("component", "leads").Logger(),
	}
}

// Create runs the CRM steps in order and returns the lead id.
func (s *Service) Create(ctx context.Context, input Input) (string, error) {
	input = clean(input)
	if err := checkRequired(input); err != nil {
		return "", err
	}

	created := map[Step]string{}
	fail := func(step Step, err error) (string, error) {
		s.logger.Error().Err(err).Str("step", string(step)).Interface("created_ids", created).Msg("lead creation aborted")
		return "", &StepError{Step: step, CreatedIDs: created, Err: err}
	}

	accountID, err := s.crm.CreateAccount(ctx, AccountParams{
		Name:  input.Company,
		Email: input.Email,
		Phone: input.Phone,
	})
	if err != nil {
		return fail(StepAccount, err)
	}
	created[StepAccount] = accountID

	contactID, err := s.crm.CreateContact(ctx, ContactParams{
		Name:      input.FirstName + " " + input.LastName,
		Email:     input.Email,
		Phone:     input.Phone,
		AccountID: accountID,
	})
	if err != nil {
		return fail(StepContact, err)
	}
	created[StepContact] = contactID

	leadID, err := s.crm.CreateLead(ctx, LeadParams{
		Description: "N-SafetyNowApp-" + input.Company,
		AccountID:   accountID,
		ContactID:   contactID,
	})
	if err != nil {
		return fail(StepLead, err)
	}
	created[StepLead] = leadID

	noteID, err := s.crm.CreateNote(ctx, leadID, noteBody(input))
	if err != nil {
		return fail(StepNote, err)
	}
	created[StepNote] = noteID

	s.logger.Info().Str("lead_id", leadID).Str("account_id", accountID).Msg("lead created")
	return leadID, nil
}

func noteBody(input Input) string {
	return fmt.Sprintf("Source: SafetyNow App Upgrade\nFirst Name: %s\nLast Name: %s\nEmail: %s\nPhone: %s\nCompany: %s\nSelected Plan: %s",
		input.FirstName, input.LastName, input.Email, input.Phone, input.Company, input.Plan)
}

func clean(input Input) Input {
	return Input{
		FirstName: sanitize.Line(input.FirstName),
		LastName:  sanitize.Line(input.LastName),
		Company:   sanitize.Line(input.Company),
		Email:     strings.TrimSpace(input.Email),
		Phone:     sanitize.Line(input.Phone),
		Plan:      sanitize.Line(input.Plan),
	}
}

func checkRequired(input Input) error {
	fields := []struct {
		name  string
		value string
	}{
		{"firstName", input.FirstName},
		{"lastName", input.LastName},
		{"company", input.Company},
		{"email", input.Email},
		{"phone", input.Phone},
		{"plan", input.Plan},
	}

	var missing []string
	for _, field := range fields {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingFieldsError{Fields: missing}
}
