// Package catalog provides read-only lookups of subscriber profiles and
// contract details. The delivery queue treats these as an external
// capability: it reads just enough to render a message and never writes.
package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"tenderwatch/internal/db"
	"tenderwatch/internal/types"
)

// Reader resolves the display data a sender needs. Backed by the same
// Postgres instance as the queue but restricted to SELECTs over the profile
// and contract tables owned by the CRUD side of the platform.
type Reader struct {
	db db.DBTX
}

// NewReader creates a Reader backed by the given connection.
func NewReader(conn db.DBTX) *Reader {
	return &Reader{db: conn}
}

// GetUserProfile returns the subscriber projection for userID, or
// ErrCodeNotFoundUser when the user has been deleted since enqueue.
func (r *Reader) GetUserProfile(ctx context.Context, userID string) (*types.UserProfile, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, email, first_name, last_name, COALESCE(preferred_categories, '{}')
		 FROM profiles
		 WHERE id = $1`,
		userID,
	)

	var profile types.UserProfile
	err := row.Scan(
		&profile.ID,
		&profile.Email,
		&profile.FirstName,
		&profile.LastName,
		&profile.PreferredCategories,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user profile not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get user profile", err)
	}

	return &profile, nil
}

// GetContract returns the contract projection for contractID, or
// ErrCodeNotFoundContract when the contract has been removed.
func (r *Reader) GetContract(ctx context.Context, contractID string) (*types.ContractSummary, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, title, agency, category, COALESCE(estimated_value, ''), submission_deadline
		 FROM contracts
		 WHERE id = $1`,
		contractID,
	)

	var contract types.ContractSummary
	err := row.Scan(
		&contract.ID,
		&contract.Title,
		&contract.Agency,
		&contract.Category,
		&contract.EstimatedValue,
		&contract.SubmissionDeadline,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundContract, "contract not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get contract", err)
	}

	return &contract, nil
}
