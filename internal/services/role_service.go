package services

import (
	"context"

	"github.com/zkdrop/backend/internal/config"
	"github.com/zkdrop/backend/internal/rbac"
	"github.com/zkdrop/backend/internal/repositories"
)

// RoleService implements escrow.Roles. Admins come from configuration;
// operators are granted at runtime and persisted.
type RoleService struct {
	cfg    *config.Config
	grants *repositories.GrantRepo
}

func NewRoleService(cfg *config.Config, grants *repositories.GrantRepo) *RoleService {
	return &RoleService{cfg: cfg, grants: grants}
}

func (s *RoleService) IsAdmin(ctx context.Context, address string) (bool, error) {
	if s.cfg.IsAdminAddress(address) {
		return true, nil
	}
	return s.grants.HasRole(ctx, address, rbac.RoleAdmin)
}

// IsOperator treats admins as operators: every admin capability set is a
// superset of the operator's.
func (s *RoleService) IsOperator(ctx context.Context, address string) (bool, error) {
	isAdmin, err := s.IsAdmin(ctx, address)
	if err != nil {
		return false, err
	}
	if isAdmin {
		return true, nil
	}
	return s.grants.HasRole(ctx, address, rbac.RoleOperator)
}

func (s *RoleService) RoleFor(ctx context.Context, address string) (string, error) {
	if isAdmin, err := s.IsAdmin(ctx, address); err != nil {
		return "", err
	} else if isAdmin {
		return rbac.RoleAdmin, nil
	}
	if isOp, err := s.grants.HasRole(ctx, address, rbac.RoleOperator); err != nil {
		return "", err
	} else if isOp {
		return rbac.RoleOperator, nil
	}
	return rbac.RoleUser, nil
}
