package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/httpapi"
	"tezgah/backend/internal/store"
)

const passwordEnv = "TEZGAH_USER_PASSWORD"

type UserAddOptions struct {
	*RootOptions
	Role     string
	Password string
}

func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage till operator accounts",
	}
	cmd.AddCommand(newUserAddCommand(rootOpts))
	return cmd
}

func newUserAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UserAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an operator login",
		Long: `Create an operator login with a bcrypt-hashed password. The password is
read from --password or, if that is empty, from ` + passwordEnv + `.

Example:
  ` + passwordEnv + `=s3cret-pass tezgah user add ayse --role cashier`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserAdd(commandContext(cmd), cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Role, "role", httpapi.RoleCashier, "role: admin or cashier")
	cmd.Flags().StringVar(&opts.Password, "password", "", "initial password (prefer "+passwordEnv+")")

	return cmd
}

func runUserAdd(ctx context.Context, cmd *cobra.Command, opts *UserAddOptions, username string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return errors.New("username is required")
	}
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role != httpapi.RoleAdmin && role != httpapi.RoleCashier {
		return fmt.Errorf("unknown role %q", opts.Role)
	}
	password := opts.Password
	if password == "" {
		password = os.Getenv(passwordEnv)
	}
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	repo, err := openPersistentStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQuietly(logger, "device store", repo.Close)

	hash, err := httpapi.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = repo.CreateUser(ctx, domain.UserAccount{
		Username:  username,
		Password:  hash,
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("user %q already exists", username)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "user %s created with role %s\n", username, role)
	return nil
}
