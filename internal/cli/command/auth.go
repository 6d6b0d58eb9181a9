package command

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/farmsync-go/internal/core/domain"
)

// LoginResult is printed after a successful login.
type LoginResult struct {
	FarmerID  string    `json:"farmer_id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name,omitempty"`
	Mode      string    `json:"mode"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"token"`
}

// Identity is printed by whoami.
type Identity struct {
	FarmerID  string    `json:"farmer_id"`
	TenantID  string    `json:"tenant_id"`
	Mobile    string    `json:"mobile"`
	Name      string    `json:"name,omitempty"`
	Village   string    `json:"village,omitempty"`
	SessionID string    `json:"session_id"`
	Offline   bool      `json:"offline"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginCommand returns the login command.
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log a farmer in, online if the remote is reachable and from the device cache otherwise",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "mobile",
				Aliases:  []string{"m"},
				Usage:    "registered mobile number",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "pin",
				Usage:   "4-digit PIN (read from stdin when omitted)",
				EnvVars: []string{"FARMSYNC_PIN"},
			},
			&cli.StringFlag{
				Name:  "farmer-id",
				Usage: "expected farmer ID",
			},
		},
		Action: login,
	}
}

func login(c *cli.Context) error {
	rt := runtimeFrom(c)
	eng, err := rt.Engine(c.Context)
	if err != nil {
		return err
	}

	if sess, err := eng.Auth().CurrentSession(c.Context); err == nil {
		return fmt.Errorf("farmer %s is already logged in, log out first", sess.FarmerID)
	}

	pin := c.String("pin")
	if pin == "" {
		if pin, err = readLine(rt, "PIN: "); err != nil {
			return err
		}
	}

	res := eng.Login(c.Context, c.String("mobile"), pin, c.String("farmer-id"))
	if !res.Success {
		return fmt.Errorf("login failed: %w", res.Err)
	}

	out := &LoginResult{
		FarmerID:  res.Farmer.FarmerID,
		TenantID:  res.Farmer.TenantID,
		Mode:      "online",
		SessionID: res.Session.ID,
		ExpiresAt: res.Session.ExpiresAtTime(),
		Token:     res.Session.Token,
	}
	if res.IsOffline {
		out.Mode = "offline"
	}
	if res.Profile != nil {
		out.Name = res.Profile.Name
	}
	return rt.Print(out)
}

// readLine prompts on stderr and reads one line from stdin.
func readLine(rt *Runtime, prompt string) (string, error) {
	fmt.Fprint(rt.Stderr(), prompt)
	line, err := bufio.NewReader(rt.Stdin()).ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" && err != nil {
		return "", fmt.Errorf("no input: %w", err)
	}
	return line, nil
}

// LogoutCommand returns the logout command.
func LogoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "End the session and remove the cached credential",
		Action: func(c *cli.Context) error {
			rt := runtimeFrom(c)
			eng, err := rt.Engine(c.Context)
			if err != nil {
				return err
			}
			sess, err := eng.Auth().CurrentSession(c.Context)
			if err != nil {
				return errors.New("not logged in")
			}
			if err := eng.Logout(c.Context); err != nil {
				return err
			}
			fmt.Fprintf(rt.Stderr(), "farmer %s logged out\n", sess.FarmerID)
			return nil
		},
	}
}

// WhoamiCommand returns the whoami command.
func WhoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the logged in farmer",
		Action: func(c *cli.Context) error {
			rt := runtimeFrom(c)
			eng, err := rt.Engine(c.Context)
			if err != nil {
				return err
			}
			sess, err := eng.Auth().CurrentSession(c.Context)
			if err != nil {
				if errors.Is(err, domain.ErrNotAuthenticated) {
					return errors.New("not logged in")
				}
				return err
			}

			id := &Identity{
				FarmerID:  sess.FarmerID,
				TenantID:  sess.TenantID,
				Mobile:    sess.Mobile,
				SessionID: sess.ID,
				Offline:   sess.IsOffline,
				ExpiresAt: sess.ExpiresAtTime(),
			}
			if cached, err := eng.CachedIdentity(c.Context); err == nil && cached.FarmerID == sess.FarmerID {
				id.Name = cached.Profile.Name
				id.Village = cached.Profile.Village
			}
			return rt.Print(id)
		},
	}
}
