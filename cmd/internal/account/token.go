package account

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
)

// Claims is the identity carried by an access token.
type Claims struct {
	UserID    string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenConfig configures a TokenManager.
type TokenConfig struct {
	Issuer string
	TTL    time.Duration
	// ClockSkew is tolerated when checking nbf/exp.
	ClockSkew time.Duration
	// SecretKeyHex is an Ed25519 PASETO v4 secret key. Empty generates an ephemeral key.
	SecretKeyHex string
}

// TokenManager issues and verifies PASETO v4.public access tokens.
type TokenManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey

	ephemeral bool
}

// NewTokenManager builds a TokenManager.
func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		cfg.Issuer = "parley"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.ClockSkew < 0 {
		return nil, OpError{Op: "account.NewTokenManager", Kind: ErrConfig, Msg: "negative clock skew"}
	}

	m := &TokenManager{issuer: cfg.Issuer, ttl: cfg.TTL, clockSkew: cfg.ClockSkew}
	if hex := strings.TrimSpace(cfg.SecretKeyHex); hex != "" {
		secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(hex)
		if err != nil {
			return nil, OpError{Op: "account.NewTokenManager", Kind: ErrConfig, Msg: "secret key"}
		}
		m.secret = secret
	} else {
		m.secret = paseto.NewV4AsymmetricSecretKey()
		m.ephemeral = true
	}
	m.public = m.secret.Public()
	return m, nil
}

// Ephemeral reports whether the key was generated at startup (tokens die with the process).
func (m *TokenManager) Ephemeral() bool { return m.ephemeral }

func (m *TokenManager) PublicKeyHex() string { return m.public.ExportHex() }

// Issue signs a token for userID.
func (m *TokenManager) Issue(userID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetJti(uuid.NewString())
	_ = tok.Set("uid", userID)

	return tok.V4Sign(m.secret, nil), exp, nil
}

// Verify checks signature, issuer and validity window.
func (m *TokenManager) Verify(token string, now time.Time) (Claims, error) {
	// A fresh parser per call keeps rules from accumulating.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(now.Add(m.clockSkew)))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return Claims{}, ErrInvalidToken
	}
	jti, _ := parsed.GetJti()
	iat, _ := parsed.GetIssuedAt()
	exp, _ := parsed.GetExpiration()

	return Claims{UserID: uid, TokenID: jti, IssuedAt: iat, ExpiresAt: exp}, nil
}
