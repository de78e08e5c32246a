package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironkey/entry"
	"github.com/jmcleod/ironkey/lock"
	"github.com/jmcleod/ironkey/vault"
)

const shellHelp = `Commands:
  register                 create an account
  login [username]         log in
  unlock                   unlock with the master password
  lock                     lock the vault
  logout                   forget the session and local keys
  list                     list entries
  show <id>                show an entry, including its password
  add                      add an entry
  edit <id>                edit an entry
  rm <id>                  delete an entry
  passwd                   change the master password
  timeout <dur|never> [lock|logout]
                           set the idle timeout and what it does
  lockonclose <on|off>     keep the vault unlocked across restarts when off
  status                   show state and policy
  help                     show this text
  quit                     leave the shell
`

// errQuit ends the shell loop.
var errQuit = errors.New("quit")

// shell is an interactive session over one app.
type shell struct {
	app *app
	p   *prompter
}

func (s *shell) prompt() string {
	switch s.app.lock.State() {
	case lock.Unlocked:
		return fmt.Sprintf("ironkey %s> ", s.app.lock.Username())
	case lock.Locked:
		return fmt.Sprintf("ironkey %s (locked)> ", s.app.lock.Username())
	default:
		return "ironkey> "
	}
}

// run reads commands until quit or end of input. Command errors are printed
// and do not end the loop.
func (s *shell) run(ctx context.Context) error {
	for {
		line, err := s.p.line(s.prompt())
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.p.out)
			return nil
		}
		if err != nil {
			return err
		}
		err = s.exec(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(s.p.out, "error: %v\n", err)
		}
	}
}

func (s *shell) exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	// Any command counts as activity.
	s.app.lock.ResetIdleTimer()

	switch cmd, rest := args[0], args[1:]; cmd {
	case "help", "?":
		fmt.Fprint(s.p.out, shellHelp)
		return nil
	case "quit", "exit":
		return errQuit
	case "register":
		return register(ctx, s.app, s.p, "", "")
	case "login":
		var username string
		if len(rest) > 0 {
			username = rest[0]
		}
		return login(ctx, s.app, s.p, username)
	case "unlock":
		return s.unlock(ctx)
	case "lock":
		return s.app.lock.Lock(ctx)
	case "logout":
		return s.app.lock.Logout(ctx)
	case "status":
		printStatus(s.p.out, s.app.lock)
		return nil
	case "list", "ls":
		return s.list(ctx)
	case "show":
		id, err := oneArg(cmd, rest)
		if err != nil {
			return err
		}
		return s.show(ctx, id)
	case "add":
		return s.add(ctx)
	case "edit":
		id, err := oneArg(cmd, rest)
		if err != nil {
			return err
		}
		return s.edit(ctx, id)
	case "rm", "delete":
		id, err := oneArg(cmd, rest)
		if err != nil {
			return err
		}
		if err := s.app.vault.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(s.p.out, "Deleted %s.\n", id)
		return nil
	case "passwd":
		return s.passwd(ctx)
	case "timeout":
		return s.timeout(ctx, rest)
	case "lockonclose":
		return s.lockOnClose(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
}

func oneArg(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: %s <id>", cmd)
	}
	return args[0], nil
}

func (s *shell) requireUnlocked() error {
	switch s.app.lock.State() {
	case lock.Unlocked:
		return nil
	case lock.LoggedOut:
		return lock.ErrNotLoggedIn
	default:
		return lock.ErrLocked
	}
}

func (s *shell) unlock(ctx context.Context) error {
	password, err := s.p.password("Master password: ")
	if err != nil {
		return err
	}
	return s.app.lock.Unlock(ctx, password)
}

func (s *shell) list(ctx context.Context) error {
	items, failures, err := s.app.vault.List(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 && len(failures) == 0 {
		fmt.Fprintln(s.p.out, "The vault is empty.")
		return nil
	}
	tw := tabwriter.NewWriter(s.p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tUSERNAME\tURL")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.ID, it.Fields.Name, it.Fields.Username, it.Fields.WebsiteURL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(failures) > 0 {
		ids := make([]string, 0, len(failures))
		for id := range failures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Fprintf(s.p.out, "%d entries could not be decrypted:\n", len(ids))
		for _, id := range ids {
			fmt.Fprintf(s.p.out, "  %s: %v\n", id, failures[id])
		}
	}
	return nil
}

func (s *shell) show(ctx context.Context, id string) error {
	it, err := s.app.vault.Get(ctx, id)
	if err != nil {
		return err
	}
	printItem(s.p.out, it)
	return nil
}

func printItem(w io.Writer, it vault.Item) {
	fmt.Fprintf(w, "ID:          %s\n", it.ID)
	fmt.Fprintf(w, "Name:        %s\n", it.Fields.Name)
	fmt.Fprintf(w, "Username:    %s\n", it.Fields.Username)
	fmt.Fprintf(w, "Password:    %s\n", it.Fields.Password)
	fmt.Fprintf(w, "URL:         %s\n", it.Fields.WebsiteURL)
	fmt.Fprintf(w, "Description: %s\n", it.Fields.Description)
	fmt.Fprintf(w, "Updated:     %s\n", it.UpdatedAt.Local().Format(time.DateTime))
}

// readFields prompts for every field, keeping the values in current when an
// answer is left empty.
func (s *shell) readFields(current entry.Fields) (entry.Fields, error) {
	var (
		f   entry.Fields
		err error
	)
	if f.Name, err = s.p.lineDefault("Name: ", current.Name); err != nil {
		return f, err
	}
	if f.Username, err = s.p.lineDefault("Username: ", current.Username); err != nil {
		return f, err
	}
	if f.Password, err = s.p.password("Password: "); err != nil {
		return f, err
	}
	if f.Password == "" {
		f.Password = current.Password
	}
	if f.WebsiteURL, err = s.p.lineDefault("URL: ", current.WebsiteURL); err != nil {
		return f, err
	}
	if f.Description, err = s.p.lineDefault("Description: ", current.Description); err != nil {
		return f, err
	}
	return f, nil
}

func (s *shell) add(ctx context.Context) error {
	if err := s.requireUnlocked(); err != nil {
		return err
	}
	fields, err := s.readFields(entry.Fields{})
	if err != nil {
		return err
	}
	it, err := s.app.vault.Create(ctx, fields)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.p.out, "Added %s.\n", it.ID)
	return nil
}

func (s *shell) edit(ctx context.Context, id string) error {
	current, err := s.app.vault.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.p.out, "Leave a field empty to keep its value.")
	fields, err := s.readFields(current.Fields)
	if err != nil {
		return err
	}
	if _, err := s.app.vault.Update(ctx, id, fields); err != nil {
		return err
	}
	fmt.Fprintf(s.p.out, "Updated %s.\n", id)
	return nil
}

func (s *shell) passwd(ctx context.Context) error {
	if err := s.requireUnlocked(); err != nil {
		return err
	}
	current, err := s.p.password("Current master password: ")
	if err != nil {
		return err
	}
	next, err := s.p.newPassword("New master password: ")
	if err != nil {
		return err
	}
	if err := s.app.lock.ChangeMasterPassword(ctx, current, next); err != nil {
		return err
	}
	fmt.Fprintln(s.p.out, "Master password changed.")
	return nil
}

func (s *shell) timeout(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: timeout <duration|never> [lock|logout]")
	}
	policy := s.app.lock.Policy()
	if args[0] == "never" {
		policy.IdleTimeout = lock.Never
	} else {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return err
		}
		if d <= 0 {
			return errors.New("timeout must be positive, use never to disable it")
		}
		policy.IdleTimeout = d
	}
	if len(args) == 2 {
		policy.TimeoutAction = lock.TimeoutAction(args[1])
	}
	if err := s.app.lock.SetPolicy(ctx, policy); err != nil {
		return err
	}
	printStatus(s.p.out, s.app.lock)
	return nil
}

func (s *shell) lockOnClose(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return errors.New("usage: lockonclose <on|off>")
	}
	policy := s.app.lock.Policy()
	policy.LockOnClose = args[0] == "on"
	if err := s.app.lock.SetPolicy(ctx, policy); err != nil {
		return err
	}
	if !policy.LockOnClose {
		fmt.Fprintln(s.p.out, "The encryption key is now kept on disk between sessions.")
	}
	printStatus(s.p.out, s.app.lock)
	return nil
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open an interactive vault session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, p *prompter) error {
			if a.lock.State() == lock.LoggedOut {
				fmt.Fprintln(p.out, "Not logged in. Use register or login, or help for all commands.")
			}
			a.lock.OnChange(func(from, to lock.State) {
				if from == lock.Unlocked && to != lock.Unlocked {
					a.logger.Info("vault closed", "state", to)
				}
			})
			sh := &shell{app: a, p: p}
			return sh.run(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}
