package sqlite

import (
	"context"
	"fmt"
	"strings"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store"
)

func (q *queries) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, username, user.Password, user.Role, user.Active, user.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (q *queries) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}

func (q *queries) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := q.q.ExecContext(ctx, `UPDATE users SET password = ? WHERE username = ?`, password, username)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return requireAffected(res, "update user password")
}
