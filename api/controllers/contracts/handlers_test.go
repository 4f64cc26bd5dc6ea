package contracts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/escrowhub-backend/api/middleware"
	internalcontracts "github.com/angelmondragon/escrowhub-backend/internal/contracts"
	"github.com/angelmondragon/escrowhub-backend/internal/escrow"
	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/types"
)

type stubContracts struct {
	internalcontracts.Service
	created   internalcontracts.CreateInput
	listInput internalcontracts.ListInput
	sent      uuid.UUID
	sendErr   error
}

func (s *stubContracts) Create(_ context.Context, input internalcontracts.CreateInput) (*models.Contract, error) {
	s.created = input
	return &models.Contract{
		ID:           uuid.New(),
		ClientID:     input.Actor.UserID,
		VendorID:     input.VendorID,
		Title:        input.Title,
		ContractType: input.ContractType,
		BudgetCents:  input.BudgetCents,
		Status:       enums.ContractStatusDraft,
	}, nil
}

func (s *stubContracts) List(_ context.Context, _ types.Actor, input internalcontracts.ListInput) (*internalcontracts.ListResult, error) {
	s.listInput = input
	return &internalcontracts.ListResult{Contracts: []models.Contract{{ID: uuid.New(), Status: enums.ContractStatusActive}}}, nil
}

func (s *stubContracts) Send(_ context.Context, contractID uuid.UUID, _ types.Actor) (*models.Contract, error) {
	s.sent = contractID
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return &models.Contract{ID: contractID, Status: enums.ContractStatusOnboarding}, nil
}

type stubEscrow struct {
	escrow.Service
	action     escrow.MilestoneAction
	fundingErr error
}

func (s *stubEscrow) InitiateFunding(_ context.Context, contractID uuid.UUID, _ types.Actor) (*escrow.FundingResult, error) {
	if s.fundingErr != nil {
		return nil, s.fundingErr
	}
	return &escrow.FundingResult{
		Contract:     &models.Contract{ID: contractID, Status: enums.ContractStatusFundingProcessing},
		Payment:      &models.Payment{ContractID: contractID, PaymentRef: "pi_1", TotalCents: 110000, EscrowCents: 100000},
		ClientSecret: "pi_1_secret",
	}, nil
}

func (s *stubEscrow) SubmitMilestone(_ context.Context, input escrow.MilestoneAction) (*escrow.MilestoneResult, error) {
	s.action = input
	return &escrow.MilestoneResult{
		Contract:  &models.Contract{ID: input.ContractID, Status: enums.ContractStatusActive},
		Milestone: &models.Milestone{ID: input.MilestoneID, Status: enums.MilestoneStatusReadyForReview},
		From:      enums.MilestoneStatusWorking,
		To:        enums.MilestoneStatusReadyForReview,
	}, nil
}

func (s *stubEscrow) ReleaseMilestone(_ context.Context, input escrow.MilestoneAction) (*escrow.ReleaseResult, error) {
	s.action = input
	ref := "tr_1"
	return &escrow.ReleaseResult{
		MilestoneResult: escrow.MilestoneResult{
			Contract:  &models.Contract{ID: input.ContractID, Status: enums.ContractStatusActive},
			Milestone: &models.Milestone{ID: input.MilestoneID, AmountCents: 40000, Status: enums.MilestoneStatusPaymentReleased},
			From:      enums.MilestoneStatusApproved,
			To:        enums.MilestoneStatusPaymentReleased,
		},
		Payment:     &models.Payment{ContractID: input.ContractID, OnHoldCents: 60000, ReleasedCents: 40000, Status: enums.PaymentStatusPartiallyReleased},
		Transaction: &models.Transaction{ID: uuid.New(), Type: enums.TransactionTypeRelease, Status: enums.TransactionStatusPending, AmountCents: 40000, ExternalRef: &ref},
	}, nil
}

func withActor(actor *types.Actor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor != nil {
				r = r.WithContext(middleware.WithActor(r.Context(), *actor))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newTestRouter(actor *types.Actor, contractsSvc internalcontracts.Service, escrowSvc escrow.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(withActor(actor))
	r.Post("/contracts", Create(contractsSvc, nil))
	r.Get("/contracts", List(contractsSvc, nil))
	r.Post("/contracts/{contractId}/send", Send(contractsSvc, nil))
	r.Post("/contracts/{contractId}/fund", Fund(escrowSvc, nil))
	r.Post("/contracts/{contractId}/milestones/{milestoneId}/submit", SubmitMilestone(escrowSvc, nil))
	r.Post("/contracts/{contractId}/milestones/{milestoneId}/release", ReleaseMilestone(escrowSvc, nil))
	return r
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func clientActor() *types.Actor {
	return &types.Actor{UserID: uuid.New(), Role: enums.ActorRoleClient}
}

func TestCreateContract(t *testing.T) {
	client := clientActor()
	svc := &stubContracts{}
	router := newTestRouter(client, svc, nil)
	vendorID := uuid.New()

	body := `{"vendorId":"` + vendorID.String() + `","title":"  Website  ","contractType":"services","budgetCents":100000,
		"milestones":[{"title":"Design","amountCents":40000},{"title":"Build","amountCents":60000}],"send":true}`
	rec := serve(router, http.MethodPost, "/contracts", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, *client, svc.created.Actor)
	assert.Equal(t, vendorID, svc.created.VendorID)
	assert.Equal(t, "Website", svc.created.Title)
	assert.Equal(t, enums.ContractTypeServices, svc.created.ContractType)
	assert.True(t, svc.created.Send)
	require.Len(t, svc.created.Milestones, 2)
	assert.Equal(t, int64(60000), svc.created.Milestones[1].AmountCents)

	var out ContractDTO
	decodeData(t, rec, &out)
	assert.Equal(t, "draft", out.Status)
}

func TestCreateContractValidation(t *testing.T) {
	router := newTestRouter(clientActor(), &stubContracts{}, nil)

	cases := map[string]string{
		"missing milestones": `{"vendorId":"` + uuid.NewString() + `","title":"x","contractType":"services","budgetCents":100}`,
		"bad type":           `{"vendorId":"` + uuid.NewString() + `","title":"x","contractType":"rentals","budgetCents":100,"milestones":[{"title":"a","amountCents":100}]}`,
		"bad vendor":         `{"vendorId":"nope","title":"x","contractType":"services","budgetCents":100,"milestones":[{"title":"a","amountCents":100}]}`,
		"zero milestone":     `{"vendorId":"` + uuid.NewString() + `","title":"x","contractType":"services","budgetCents":100,"milestones":[{"title":"a","amountCents":0}]}`,
	}
	for name, body := range cases {
		rec := serve(router, http.MethodPost, "/contracts", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestListContractsFilters(t *testing.T) {
	svc := &stubContracts{}
	router := newTestRouter(clientActor(), svc, nil)

	rec := serve(router, http.MethodGet, "/contracts?status=active&role=vendor&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, svc.listInput.Status)
	assert.Equal(t, enums.ContractStatusActive, *svc.listInput.Status)
	require.NotNil(t, svc.listInput.Role)
	assert.Equal(t, enums.ActorRoleVendor, *svc.listInput.Role)
	assert.Equal(t, 10, svc.listInput.Page.Limit)

	var out ContractListDTO
	decodeData(t, rec, &out)
	assert.Len(t, out.Contracts, 1)

	rec = serve(router, http.MethodGet, "/contracts?role=admin", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(router, http.MethodGet, "/contracts?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContractActionMapsServiceErrors(t *testing.T) {
	svc := &stubContracts{sendErr: pkgerrors.New(pkgerrors.CodeInvalidTransition, "contract cannot send from active")}
	router := newTestRouter(clientActor(), svc, nil)
	id := uuid.New()

	rec := serve(router, http.MethodPost, "/contracts/"+id.String()+"/send", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, id, svc.sent)

	rec = serve(router, http.MethodPost, "/contracts/not-a-uuid/send", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	router := newTestRouter(nil, &stubContracts{}, &stubEscrow{})

	rec := serve(router, http.MethodPost, "/contracts/"+uuid.NewString()+"/fund", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFundReturnsClientSecret(t *testing.T) {
	router := newTestRouter(clientActor(), nil, &stubEscrow{})
	id := uuid.New()

	rec := serve(router, http.MethodPost, "/contracts/"+id.String()+"/fund", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out FundingDTO
	decodeData(t, rec, &out)
	assert.Equal(t, "pi_1_secret", out.ClientSecret)
	assert.Equal(t, "funding_processing", out.Contract.Status)
	assert.Equal(t, int64(100000), out.Payment.EscrowCents)
}

func TestFundMapsDuplicateFunding(t *testing.T) {
	router := newTestRouter(clientActor(), nil, &stubEscrow{fundingErr: pkgerrors.New(pkgerrors.CodeDuplicateFunding, "contract already has a payment")})

	rec := serve(router, http.MethodPost, "/contracts/"+uuid.NewString()+"/fund", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitMilestonePassesNoteAndAttachments(t *testing.T) {
	vendor := &types.Actor{UserID: uuid.New(), Role: enums.ActorRoleVendor}
	svc := &stubEscrow{}
	router := newTestRouter(vendor, nil, svc)
	contractID, milestoneID := uuid.New(), uuid.New()
	path := "/contracts/" + contractID.String() + "/milestones/" + milestoneID.String() + "/submit"

	rec := serve(router, http.MethodPost, path, `{"note":"ready for review","attachments":["s3://bucket/mockup.png"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, contractID, svc.action.ContractID)
	assert.Equal(t, milestoneID, svc.action.MilestoneID)
	assert.Equal(t, *vendor, svc.action.Actor)
	require.NotNil(t, svc.action.Note)
	assert.Equal(t, "ready for review", *svc.action.Note)
	assert.Equal(t, []string{"s3://bucket/mockup.png"}, svc.action.Attachments)

	var out MilestoneActionDTO
	decodeData(t, rec, &out)
	assert.Equal(t, "working", out.From)
	assert.Equal(t, "ready_for_review", out.To)

	rec = serve(router, http.MethodPost, path, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, svc.action.Note)
}

func TestReleaseMilestoneReturnsLedgerState(t *testing.T) {
	router := newTestRouter(clientActor(), nil, &stubEscrow{})
	path := "/contracts/" + uuid.NewString() + "/milestones/" + uuid.NewString() + "/release"

	rec := serve(router, http.MethodPost, path, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out ReleaseDTO
	decodeData(t, rec, &out)
	assert.Equal(t, "payment_released", out.To)
	assert.Equal(t, int64(60000), out.Payment.OnHoldCents)
	assert.Equal(t, int64(40000), out.Payment.ReleasedCents)
	require.NotNil(t, out.Transaction)
	assert.Equal(t, "release", out.Transaction.Type)
	require.NotNil(t, out.Transaction.ExternalRef)
	assert.Equal(t, "tr_1", *out.Transaction.ExternalRef)
}
