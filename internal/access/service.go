// Package access issues short-lived download tokens to principals with a recent membership verification.
package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"orgregistry/internal/catalog"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hyperledger/fabric/common/flogging"
	"github.com/raulk/clock"
)

var logger = flogging.MustGetLogger("orgregistry.access")

const audience = "orgregistry-download"

var (
	ErrNotVerified       = errors.New("no membership verification recorded")
	ErrVerificationStale = errors.New("membership verification is too old")
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token has expired")
)

// VerificationSource answers when principal last proved membership of orgID.
type VerificationSource interface {
	LatestVerification(ctx context.Context, principal string, orgID uint32) (time.Time, bool, error)
}

// FileCatalog answers which files an organization offers.
type FileCatalog interface {
	File(ctx context.Context, orgID, fileID uint32) (*catalog.File, bool, error)
	Files(ctx context.Context, orgID uint32) ([]catalog.File, error)
}

// Claims are carried by a download token.
type Claims struct {
	OrgID  uint32 `json:"org_id"`
	FileID uint32 `json:"file_id"`
	jwt.RegisteredClaims
}

// Principal is the token subject.
func (c *Claims) Principal() string { return c.Subject }

type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Service struct {
	source     VerificationSource
	files      FileCatalog
	signingKey []byte
	issuer     string
	tokenTTL   time.Duration
	maxAge     time.Duration
	clock      clock.Clock
	metrics    *Metrics
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func NewService(source VerificationSource, files FileCatalog, signingKey, issuer string, tokenTTL, maxVerificationAge time.Duration, metrics *Metrics, opts ...Option) *Service {
	s := &Service{
		source:     source,
		files:      files,
		signingKey: []byte(signingKey),
		issuer:     issuer,
		tokenTTL:   tokenTTL,
		maxAge:     maxVerificationAge,
		clock:      clock.New(),
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// checkVerified fails unless principal verified membership of orgID within the maximum age.
// The returned label classifies the outcome for metrics.
func (s *Service) checkVerified(ctx context.Context, principal string, orgID uint32) (string, error) {
	verifiedAt, found, err := s.source.LatestVerification(ctx, principal, orgID)
	if err != nil {
		return "error", fmt.Errorf("look up verification: %w", err)
	}
	if !found {
		return "not_verified", fmt.Errorf("%w for organization %d", ErrNotVerified, orgID)
	}
	if age := s.clock.Now().Sub(verifiedAt); age > s.maxAge {
		return "stale", fmt.Errorf("%w: verified %s ago, limit %s", ErrVerificationStale, age.Truncate(time.Second), s.maxAge)
	}
	return "", nil
}

// ListFiles returns the catalogued files of orgID to a recently verified member.
func (s *Service) ListFiles(ctx context.Context, principal string, orgID uint32) ([]catalog.File, error) {
	if _, err := s.checkVerified(ctx, principal, orgID); err != nil {
		return nil, err
	}
	files, err := s.files.Files(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

// IssueDownloadToken signs a token for fileID when principal verified membership of orgID within
// the configured maximum age and the catalog lists fileID under orgID.
func (s *Service) IssueDownloadToken(ctx context.Context, principal string, orgID, fileID uint32) (*Token, error) {
	if result, err := s.checkVerified(ctx, principal, orgID); err != nil {
		s.metrics.observe(result)
		return nil, err
	}
	if _, found, err := s.files.File(ctx, orgID, fileID); err != nil {
		s.metrics.observe("error")
		return nil, fmt.Errorf("look up file: %w", err)
	} else if !found {
		s.metrics.observe("unknown_file")
		return nil, fmt.Errorf("%w: file %d of organization %d", catalog.ErrUnknownFile, fileID, orgID)
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		OrgID:  orgID,
		FileID: fileID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal,
			Issuer:    s.issuer,
			Audience:  []string{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		s.metrics.observe("error")
		return nil, fmt.Errorf("sign download token: %w", err)
	}
	s.metrics.observe("issued")
	logger.Infof("issued download token for file %d of organization %d", fileID, orgID)
	return &Token{Token: signed, ExpiresAt: expiresAt.Truncate(time.Second)}, nil
}

// ParseDownloadToken checks signature, issuer, audience and expiry.
func (s *Service) ParseDownloadToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		logger.Debugf("rejected download token: %v", err)
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ResolveDownload validates tokenString and looks up the file it grants.
func (s *Service) ResolveDownload(ctx context.Context, tokenString string) (*Claims, *catalog.File, error) {
	claims, err := s.ParseDownloadToken(tokenString)
	if err != nil {
		return nil, nil, err
	}
	file, found, err := s.files.File(ctx, claims.OrgID, claims.FileID)
	if err != nil {
		return nil, nil, fmt.Errorf("look up file: %w", err)
	}
	if !found {
		return nil, nil, fmt.Errorf("%w: file %d of organization %d", catalog.ErrUnknownFile, claims.FileID, claims.OrgID)
	}
	return claims, file, nil
}

func formatID(v uint32) string { return strconv.FormatUint(uint64(v), 10) }
