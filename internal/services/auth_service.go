package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/zkdrop/backend/internal/auth"
	"github.com/zkdrop/backend/internal/config"
	"github.com/zkdrop/backend/internal/ton"
	"go.uber.org/zap"
)

// AuthService implements wallet login: a one-time challenge nonce, a signed
// TON Connect proof over it, and a JWT on success.
type AuthService struct {
	rdb *redis.Client
	cfg *config.Config
	log *zap.Logger
}

func NewAuthService(rdb *redis.Client, cfg *config.Config, log *zap.Logger) *AuthService {
	return &AuthService{rdb: rdb, cfg: cfg, log: log}
}

func challengeKey(nonce string) string {
	return "auth:challenge:" + nonce
}

// IssueChallenge hands out a nonce the wallet must embed in its proof
// payload. Single use, expires after ChallengeTTL.
func (s *AuthService) IssueChallenge(ctx context.Context) (string, time.Duration, error) {
	nonce := uuid.NewString()
	if err := s.rdb.Set(ctx, challengeKey(nonce), "1", s.cfg.ChallengeTTL).Err(); err != nil {
		return "", 0, fmt.Errorf("store challenge: %w", err)
	}
	return nonce, s.cfg.ChallengeTTL, nil
}

// VerifyProof consumes the challenge and checks the TON Connect signature.
// Returns a session token bound to the proven address.
func (s *AuthService) VerifyProof(ctx context.Context, data ton.ProofData) (string, error) {
	// Consume the nonce first. GETDEL makes replay of the same proof fail
	// even when two requests race.
	res, err := s.rdb.GetDel(ctx, challengeKey(data.Proof.Payload)).Result()
	if err == redis.Nil || res == "" {
		return "", fmt.Errorf("unknown or expired challenge")
	}
	if err != nil {
		return "", fmt.Errorf("lookup challenge: %w", err)
	}

	workchain, addrHash, err := ton.ParseRawAddress(data.Address)
	if err != nil {
		return "", err
	}

	sig, err := base64.StdEncoding.DecodeString(data.Proof.Signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding: %w", err)
	}

	if err := ton.VerifyProof(data.PublicKey, addrHash, workchain, data.Proof, sig, s.cfg.TONProofAllowedDomains); err != nil {
		s.log.Debug("ton proof verification failed", zap.Error(err))
		return "", err
	}

	token, err := auth.GenerateJWT(s.cfg.JWTSecret, data.Address, s.cfg.JWTExpiration)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}
