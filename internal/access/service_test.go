package access

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"orgregistry/internal/catalog"
	"orgregistry/internal/indexer"
	"orgregistry/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	testKey = "0123456789abcdef0123456789abcdef"
	issuer  = "orgregistry-access-test"
	alice   = "x509::CN=alice,OU=client::CN=ca.org1.example.com"
)

var t0 = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

type verification struct {
	principal string
	orgID     uint32
}

// fakeSource answers from a map and counts lookups.
type fakeSource struct {
	mu    sync.Mutex
	at    map[verification]time.Time
	err   error
	calls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{at: map[verification]time.Time{}}
}

func (f *fakeSource) LatestVerification(_ context.Context, principal string, orgID uint32) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	at, ok := f.at[verification{principal, orgID}]
	return at, ok, nil
}

func (f *fakeSource) set(principal string, orgID uint32, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.at[verification{principal, orgID}] = at
}

// newTestCatalog lists files 1 and 42 under organization 3.
func newTestCatalog(t require.TestingT) *catalog.MemoryStore {
	files := catalog.NewMemoryStore()
	for _, f := range []catalog.File{
		{OrgID: 3, FileID: 1, Name: "handbook.pdf", Size: 1024, Type: "application/pdf", Location: "s3://org-3/handbook.pdf"},
		{OrgID: 3, FileID: 42, Name: "roster.csv", Size: 64, Type: "text/csv", Location: "s3://org-3/roster.csv"},
	} {
		require.NoError(t, files.PutFile(context.Background(), f))
	}
	return files
}

type ServiceSuite struct {
	suite.Suite
	source  *fakeSource
	files   *catalog.MemoryStore
	clock   *clock.Mock
	metrics *Metrics
	svc     *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.source = newFakeSource()
	s.clock = clock.NewMock()
	s.clock.Set(t0)
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.files = newTestCatalog(s.T())
	s.svc = NewService(s.source, s.files, testKey, issuer, 5*time.Minute, time.Hour, s.metrics, WithClock(s.clock))
}

func (s *ServiceSuite) TestIssueAndParse() {
	s.source.set(alice, 3, t0.Add(-10*time.Minute))

	tok, err := s.svc.IssueDownloadToken(context.Background(), alice, 3, 42)
	s.Require().NoError(err)
	s.True(t0.Add(5 * time.Minute).Equal(tok.ExpiresAt))

	claims, err := s.svc.ParseDownloadToken(tok.Token)
	s.Require().NoError(err)
	s.Equal(alice, claims.Principal())
	s.Equal(uint32(3), claims.OrgID)
	s.Equal(uint32(42), claims.FileID)
	s.NotEmpty(claims.ID)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Tokens.WithLabelValues("issued")))
}

func (s *ServiceSuite) TestTokensAreUnique() {
	s.source.set(alice, 3, t0)
	a, err := s.svc.IssueDownloadToken(context.Background(), alice, 3, 1)
	s.Require().NoError(err)
	b, err := s.svc.IssueDownloadToken(context.Background(), alice, 3, 1)
	s.Require().NoError(err)
	s.NotEqual(a.Token, b.Token)
}

func (s *ServiceSuite) TestRefusesMissingVerification() {
	s.source.set(alice, 4, t0)

	_, err := s.svc.IssueDownloadToken(context.Background(), alice, 3, 1)
	s.ErrorIs(err, ErrNotVerified)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Tokens.WithLabelValues("not_verified")))
}

func (s *ServiceSuite) TestRefusesUncataloguedFile() {
	s.source.set(alice, 3, t0)
	s.source.set(alice, 4, t0)

	_, err := s.svc.IssueDownloadToken(context.Background(), alice, 3, 2)
	s.ErrorIs(err, catalog.ErrUnknownFile)

	_, err = s.svc.IssueDownloadToken(context.Background(), alice, 4, 1)
	s.ErrorIs(err, catalog.ErrUnknownFile, "file 1 belongs to organization 3")
	s.Equal(2.0, testutil.ToFloat64(s.metrics.Tokens.WithLabelValues("unknown_file")))
}

func (s *ServiceSuite) TestVerificationCheckedBeforeCatalog() {
	_, err := s.svc.IssueDownloadToken(context.Background(), alice, 3, 2)
	s.ErrorIs(err, ErrNotVerified)
}

func (s *ServiceSuite) TestListFiles() {
	_, err := s.svc.ListFiles(context.Background(), alice, 3)
	s.ErrorIs(err, ErrNotVerified)

	s.source.set(alice, 3, t0.Add(-2*time.Hour))
	_, err = s.svc.ListFiles(context.Background(), alice, 3)
	s.ErrorIs(err, ErrVerificationStale)

	s.source.set(alice, 3, t0.Add(-time.Minute))
	files, err := s.svc.ListFiles(context.Background(), alice, 3)
	s.Require().NoError(err)
	s.Require().Len(files, 2)
	s.Equal(uint32(1), files[0].FileID)
	s.Equal(uint32(42), files[1].FileID)
	s.Equal(0.0, testutil.ToFloat64(s.metrics.Tokens.WithLabelValues("stale")), "listing is not a token request")

	s.source.set(alice, 5, t0)
	files, err = s.svc.ListFiles(context.Background(), alice, 5)
	s.Require().NoError(err)
	s.Empty(files)
}

func (s *ServiceSuite) TestResolveDownload() {
	s.source.set(alice, 3, t0)
	tok, err := s.svc.IssueDownloadToken(context.Background(), alice, 3, 42)
	s.Require().NoError(err)

	claims, file, err := s.svc.ResolveDownload(context.Background(), tok.Token)
	s.Require().NoError(err)
	s.Equal(alice, claims.Principal())
	s.Equal("roster.csv", file.Name)
	s.Equal("s3://org-3/roster.csv", file.Location)

	// A token whose file is not catalogued here, e.g. signed by a replica with a different catalog.
	elsewhere := NewService(s.source, catalog.NewMemoryStore(), testKey, issuer, 5*time.Minute, time.Hour, s.metrics, WithClock(s.clock))
	_, _, err = elsewhere.ResolveDownload(context.Background(), tok.Token)
	s.ErrorIs(err, catalog.ErrUnknownFile)

	_, _, err = s.svc.ResolveDownload(context.Background(), "garbage")
	s.ErrorIs(err, ErrInvalidToken)
}

func (s *ServiceSuite) TestRefusesStaleVerification() {
	s.source.set(alice, 3, t0.Add(-time.Hour))
	_, err := s.svc.IssueDownloadToken(context.Background(), alice, 3, 1)
	s.Require().NoError(err, "exactly at the limit is accepted")

	s.clock.Add(time.Second)
	_, err = s.svc.IssueDownloadToken(context.Background(), alice, 3, 1)
	s.ErrorIs(err, ErrVerificationStale)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Tokens.WithLabelValues("stale")))
}

func (s *ServiceSuite) TestSourceFailure() {
	s.source.err = errors.New("gateway unavailable")
	_, err := s.svc.IssueDownloadToken(context.Background(), alice, 3, 1)
	s.Error(err)
	s.NotErrorIs(err, ErrNotVerified)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Tokens.WithLabelValues("error")))
}

func (s *ServiceSuite) TestExpiredToken() {
	s.source.set(alice, 3, t0)
	tok, err := s.svc.IssueDownloadToken(context.Background(), alice, 3, 1)
	s.Require().NoError(err)

	s.clock.Add(6 * time.Minute)
	_, err = s.svc.ParseDownloadToken(tok.Token)
	s.ErrorIs(err, ErrTokenExpired)
}

func (s *ServiceSuite) TestRejectsForeignTokens() {
	s.source.set(alice, 3, t0)
	tok, err := s.svc.IssueDownloadToken(context.Background(), alice, 3, 1)
	s.Require().NoError(err)

	other := NewService(s.source, s.files, strings.Repeat("x", 32), issuer, 5*time.Minute, time.Hour, s.metrics, WithClock(s.clock))
	_, err = other.ParseDownloadToken(tok.Token)
	s.ErrorIs(err, ErrInvalidToken, "other key")

	otherIssuer := NewService(s.source, s.files, testKey, "someone-else", 5*time.Minute, time.Hour, s.metrics, WithClock(s.clock))
	_, err = otherIssuer.ParseDownloadToken(tok.Token)
	s.ErrorIs(err, ErrInvalidToken, "other issuer")

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{OrgID: 3, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   alice,
		Issuer:    issuer,
		Audience:  []string{audience},
		ExpiresAt: jwt.NewNumericDate(t0.Add(time.Hour)),
	}}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	s.Require().NoError(err)
	_, err = s.svc.ParseDownloadToken(unsigned)
	s.ErrorIs(err, ErrInvalidToken, "alg none")

	_, err = s.svc.ParseDownloadToken("not-a-token")
	s.ErrorIs(err, ErrInvalidToken)
}

func TestCachedSourceKeepsPositiveAnswers(t *testing.T) {
	src := newFakeSource()
	mock := clock.NewMock()
	mock.Set(t0)
	cached := NewCachedSource(src, time.Minute, time.Hour, mock)
	ctx := context.Background()

	_, found, err := cached.LatestVerification(ctx, alice, 1)
	require.NoError(t, err)
	assert.False(t, found)

	src.set(alice, 1, t0)
	at, found, err := cached.LatestVerification(ctx, alice, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, t0.Equal(at))

	_, _, err = cached.LatestVerification(ctx, alice, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	src.err = errors.New("down")
	_, _, err = cached.LatestVerification(ctx, alice, 2)
	assert.Error(t, err)
}

func TestCachedSourceRefreshesAgedOutVerification(t *testing.T) {
	src := newFakeSource()
	mock := clock.NewMock()
	mock.Set(t0)
	cached := NewCachedSource(src, 10*time.Minute, time.Hour, mock)
	svc := NewService(cached, newTestCatalog(t), testKey, issuer, 5*time.Minute, time.Hour,
		NewMetrics(prometheus.NewRegistry()), WithClock(mock))
	ctx := context.Background()

	src.set(alice, 3, t0.Add(-59*time.Minute))
	_, err := svc.IssueDownloadToken(ctx, alice, 3, 1)
	require.NoError(t, err)

	// The member re-verifies on the ledger while the old answer is still cached.
	src.set(alice, 3, t0.Add(90*time.Second))
	mock.Set(t0.Add(2 * time.Minute))
	_, err = svc.IssueDownloadToken(ctx, alice, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	at, found, err := cached.LatestVerification(ctx, alice, 3)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, t0.Add(90*time.Second).Equal(at))
	assert.Equal(t, 2, src.calls, "fresh answer is cached again")
}

func TestIssueFromIndexedVerification(t *testing.T) {
	store := indexer.NewMemoryStore()
	_, err := store.Apply(context.Background(), &indexer.Event{
		Name: model.EventProofVerified,
		TxID: "tx1",
		ProofVerified: &model.ProofVerifiedEvent{
			Principal: alice,
			OrgID:     3,
			FileID:    1,
			TxID:      "tx1",
			Timestamp: t0.Add(-time.Minute).UnixMilli(),
		},
	})
	require.NoError(t, err)

	mock := clock.NewMock()
	mock.Set(t0)
	svc := NewService(store, newTestCatalog(t), testKey, issuer, 5*time.Minute, time.Hour, NewMetrics(prometheus.NewRegistry()), WithClock(mock))

	tok, err := svc.IssueDownloadToken(context.Background(), alice, 3, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)

	_, err = svc.IssueDownloadToken(context.Background(), alice, 8, 1)
	assert.ErrorIs(t, err, ErrNotVerified)
}
