package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/brademus/investorkonnect-sub002/internal/models"
	"github.com/brademus/investorkonnect-sub002/internal/provider"
)

type resolverFixture struct {
	database   *mongo.Database
	client     *mockProviderClient
	resolver   IResolverService
	agreements IAgreementService
}

func newResolverFixture(t *testing.T, dbName string) (*resolverFixture, context.Context) {
	database := setupTestDB(t, dbName)
	cfg := testServiceConfig()
	client := new(mockProviderClient)
	connections := NewConnectionService(database, cfg, client)
	seedConnection(t, database, time.Now().UTC().Add(time.Hour))

	signing := NewSigningService(database, cfg, client, connections, nil)
	syncSvc := NewSyncService(database, client, connections, signing, nil)
	return &resolverFixture{
		database:   database,
		client:     client,
		resolver:   NewResolverService(database, syncSvc, signing),
		agreements: NewAgreementService(database),
	}, context.Background()
}

func TestResolveMissingDeal(t *testing.T) {
	f, ctx := newResolverFixture(t, "test_resolver_missing_deal")
	_, err := f.resolver.Resolve(ctx, models.NewID(), nil, false)
	assert.ErrorIs(t, err, ErrDealNotFound)
}

func TestResolveWithoutAgreement(t *testing.T) {
	f, ctx := newResolverFixture(t, "test_resolver_no_agreement")
	deal := seedDeal(t, f.database, models.NewID(), "TX", models.ProposedTerms{BuyerSide: flatTerms(5000, 90)})

	state, err := f.resolver.Resolve(ctx, deal.ID, nil, false)
	require.NoError(t, err)
	assert.Nil(t, state.Agreement)
	assert.Nil(t, state.PendingCounterOffer)
	assert.False(t, state.FullySigned)
	require.NotNil(t, state.DealTerms.BuyerSide)
	assert.Equal(t, 5000.0, *state.DealTerms.BuyerSide.FlatAmount)
}

func TestResolveFollowsPointer(t *testing.T) {
	f, ctx := newResolverFixture(t, "test_resolver_pointer")
	deal := seedDeal(t, f.database, models.NewID(), "TX", models.ProposedTerms{BuyerSide: flatTerms(5000, 90)})
	agreement, _, err := f.agreements.Generate(ctx, deal.ID, nil, nil, models.SignerModeBoth)
	require.NoError(t, err)

	state, err := f.resolver.Resolve(ctx, deal.ID, nil, false)
	require.NoError(t, err)
	require.NotNil(t, state.Agreement)
	assert.Equal(t, agreement.ID, state.Agreement.ID)
	assert.False(t, state.RequiresRegenerate)
}

// Scenario: the room pointer references a superseded agreement; the latest
// non-superseded agreement for the room wins instead.
func TestResolveStalePointerFallsBackToActive(t *testing.T) {
	f, ctx := newResolverFixture(t, "test_resolver_stale_pointer")
	investor := seedUser(t, f.database, models.RoleInvestor)
	deal := seedDeal(t, f.database, investor.ID, "TX", models.ProposedTerms{BuyerSide: flatTerms(5000, 90)})
	room := seedRoom(t, f.database, deal.ID, models.NewID())

	stale, _, err := f.agreements.Generate(ctx, deal.ID, &room.ID, nil, models.SignerModeBoth)
	require.NoError(t, err)
	newTerms := models.ProposedTerms{BuyerSide: percentageTerms(3, 90)}
	active, _, err := f.agreements.Generate(ctx, deal.ID, &room.ID, &newTerms, models.SignerModeBoth)
	require.NoError(t, err)

	// Wind the pointer back to the dead agreement and mark it superseded.
	_, err = f.database.Collection(agreementsCollection).UpdateOne(ctx,
		bson.M{"_id": stale.ID}, bson.M{"$set": bson.M{"status": models.AgreementSuperseded}})
	require.NoError(t, err)
	_, err = f.database.Collection(roomsCollection).UpdateOne(ctx,
		bson.M{"_id": room.ID}, bson.M{"$set": bson.M{"current_legal_agreement_id": stale.ID}})
	require.NoError(t, err)

	state, err := f.resolver.Resolve(ctx, deal.ID, &room.ID, false)
	require.NoError(t, err)
	require.NotNil(t, state.Agreement)
	assert.Equal(t, active.ID, state.Agreement.ID)
}

func TestResolveBestEffortWhenAllTerminal(t *testing.T) {
	f, ctx := newResolverFixture(t, "test_resolver_all_terminal")
	deal := seedDeal(t, f.database, models.NewID(), "TX", models.ProposedTerms{BuyerSide: flatTerms(5000, 90)})
	agreement, _, err := f.agreements.Generate(ctx, deal.ID, nil, nil, models.SignerModeBoth)
	require.NoError(t, err)
	_, err = f.database.Collection(agreementsCollection).UpdateOne(ctx,
		bson.M{"_id": agreement.ID}, bson.M{"$set": bson.M{"status": models.AgreementVoided}})
	require.NoError(t, err)

	state, err := f.resolver.Resolve(ctx, deal.ID, nil, false)
	require.NoError(t, err)
	// The newest dead agreement surfaces with its terminal status visible.
	require.NotNil(t, state.Agreement)
	assert.Equal(t, agreement.ID, state.Agreement.ID)
	assert.Equal(t, models.AgreementVoided, state.Agreement.Status)
	assert.False(t, state.FullySigned)
}

func TestResolveIncludesPendingCounterOffer(t *testing.T) {
	f, ctx := newResolverFixture(t, "test_resolver_pending_offer")
	deal := seedDeal(t, f.database, models.NewID(), "TX", models.ProposedTerms{BuyerSide: flatTerms(5000, 90)})

	negotiation := NewNegotiationService(f.database, f.agreements, nil)
	offer, err := negotiation.Propose(ctx, deal.ID, nil, models.RoleAgent, models.TermsDelta{
		BuyerSide: &models.CommissionTermsDelta{FlatAmount: floatPtr(6000)},
	})
	require.NoError(t, err)

	state, err := f.resolver.Resolve(ctx, deal.ID, nil, false)
	require.NoError(t, err)
	require.NotNil(t, state.PendingCounterOffer)
	assert.Equal(t, offer.ID, state.PendingCounterOffer.ID)
}

func TestResolveForceRefreshSyncsProviderState(t *testing.T) {
	f, ctx := newResolverFixture(t, "test_resolver_force_refresh")
	investor := seedUser(t, f.database, models.RoleInvestor)
	deal := seedDeal(t, f.database, investor.ID, "TX", models.ProposedTerms{BuyerSide: flatTerms(5000, 90)})
	agreement, _, err := f.agreements.Generate(ctx, deal.ID, nil, nil, models.SignerModeBoth)
	require.NoError(t, err)
	_, err = f.database.Collection(agreementsCollection).UpdateOne(ctx,
		bson.M{"_id": agreement.ID},
		bson.M{"$set": bson.M{
			"status":                models.AgreementSent,
			"envelope_id":           "env-r",
			"investor_recipient_id": "r-inv",
		}})
	require.NoError(t, err)

	f.client.On("ListRecipients", mock.Anything, mock.Anything, "env-r").Return([]provider.RecipientStatus{
		{RecipientID: "r-inv", RoleName: "investor", Status: "completed", SignedDateTime: "2026-08-29T10:00:00Z"},
	}, nil)

	state, err := f.resolver.Resolve(ctx, deal.ID, nil, true)
	require.NoError(t, err)
	require.NotNil(t, state.Agreement)
	assert.True(t, state.InvestorSigned)
	assert.Equal(t, models.AgreementInvestorSigned, state.Agreement.Status)
}

// Provider trouble during a forced refresh never fails the read.
func TestResolveDegradesWhenProviderDown(t *testing.T) {
	f, ctx := newResolverFixture(t, "test_resolver_degrade")
	investor := seedUser(t, f.database, models.RoleInvestor)
	deal := seedDeal(t, f.database, investor.ID, "TX", models.ProposedTerms{BuyerSide: flatTerms(5000, 90)})
	agreement, _, err := f.agreements.Generate(ctx, deal.ID, nil, nil, models.SignerModeBoth)
	require.NoError(t, err)
	_, err = f.database.Collection(agreementsCollection).UpdateOne(ctx,
		bson.M{"_id": agreement.ID},
		bson.M{"$set": bson.M{"status": models.AgreementSent, "envelope_id": "env-d"}})
	require.NoError(t, err)

	f.client.On("ListRecipients", mock.Anything, mock.Anything, "env-d").
		Return(nil, provider.ErrUnavailable)

	state, err := f.resolver.Resolve(ctx, deal.ID, nil, true)
	require.NoError(t, err)
	require.NotNil(t, state.Agreement)
	assert.Equal(t, models.AgreementSent, state.Agreement.Status)
}
