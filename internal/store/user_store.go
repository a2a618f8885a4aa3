package store

import (
	"context"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	"github.com/lazywriting/api/internal/model"
)

// UserStore tracks principals and their remaining article allowance
type UserStore struct {
	db               *gorm.DB
	defaultAllowance int
}

func NewUserStore(db *gorm.DB, defaultAllowance int) *UserStore {
	return &UserStore{db: db, defaultAllowance: defaultAllowance}
}

// Ensure returns the user, provisioning it with the default allowance on first sight
func (s *UserStore) Ensure(ctx context.Context, id, email string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).
		Where(model.User{ID: id}).
		Attrs(model.User{Email: email, Allowance: s.defaultAllowance}).
		FirstOrCreate(&user).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to ensure user %s", id)
	}
	return &user, nil
}

// Get loads a user
func (s *UserStore) Get(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load user %s", id)
	}
	return &user, nil
}

// SetAllowance overwrites the remaining allowance, e.g. after a package purchase
func (s *UserStore) SetAllowance(ctx context.Context, id string, allowance int) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("allowance", allowance)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to set allowance")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// decrementAllowance consumes one unit. The guard keeps the counter from
// going negative under concurrent creates.
func decrementAllowance(tx *gorm.DB, userID string) error {
	res := tx.Model(&model.User{}).
		Where("id = ? AND allowance > 0", userID).
		Update("allowance", gorm.Expr("allowance - 1"))
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to decrement allowance")
	}
	if res.RowsAffected == 0 {
		return ErrAllowanceExhausted
	}
	return nil
}
