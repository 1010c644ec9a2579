package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/acapretto/tokenvault/internal/crypto"
	"github.com/acapretto/tokenvault/internal/session"
	"github.com/acapretto/tokenvault/internal/syncer"
	"github.com/acapretto/tokenvault/internal/vault"
)

func main() {
	// ---- init ----
	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	initDir := initCmd.String("dir", defaultDir(), "state directory")

	// ---- unlock ----
	unlockCmd := flag.NewFlagSet("unlock", flag.ExitOnError)
	unlockDir := unlockCmd.String("dir", defaultDir(), "state directory")

	// ---- lock ----
	lockCmd := flag.NewFlagSet("lock", flag.ExitOnError)
	lockDir := lockCmd.String("dir", defaultDir(), "state directory")

	// ---- status ----
	statusCmd := flag.NewFlagSet("status", flag.ExitOnError)
	statusDir := statusCmd.String("dir", defaultDir(), "state directory")

	// ---- show ----
	showCmd := flag.NewFlagSet("show", flag.ExitOnError)
	showDir := showCmd.String("dir", defaultDir(), "state directory")

	// ---- reset ----
	resetCmd := flag.NewFlagSet("reset", flag.ExitOnError)
	resetDir := resetCmd.String("dir", defaultDir(), "state directory")
	resetYes := resetCmd.Bool("yes", false, "skip confirmation")

	// ---- push ----
	pushCmd := flag.NewFlagSet("push", flag.ExitOnError)
	pushDir := pushCmd.String("dir", defaultDir(), "state directory")
	pushServer := pushCmd.String("server", "http://localhost:8080", "vaultd base URL")
	pushUser := pushCmd.String("user", "", "sync identifier (email)")

	// ---- pull ----
	pullCmd := flag.NewFlagSet("pull", flag.ExitOnError)
	pullDir := pullCmd.String("dir", defaultDir(), "state directory")
	pullServer := pullCmd.String("server", "http://localhost:8080", "vaultd base URL")
	pullUser := pullCmd.String("user", "", "sync identifier (email)")

	// ---- delete-remote ----
	delCmd := flag.NewFlagSet("delete-remote", flag.ExitOnError)
	delDir := delCmd.String("dir", defaultDir(), "state directory")
	delServer := delCmd.String("server", "http://localhost:8080", "vaultd base URL")
	delUser := delCmd.String("user", "", "sync identifier (email)")

	// ---- token ----
	tokenCmd := flag.NewFlagSet("token", flag.ExitOnError)
	tokenServer := tokenCmd.String("server", "http://localhost:8080", "vaultd base URL")
	tokenCode := tokenCmd.String("code", "", "access code")

	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "init":
		_ = initCmd.Parse(os.Args[2:])
		dieIf(cmdInit(*initDir))
	case "unlock":
		_ = unlockCmd.Parse(os.Args[2:])
		dieIf(cmdUnlock(*unlockDir))
	case "lock":
		_ = lockCmd.Parse(os.Args[2:])
		dieIf(cmdLock(*lockDir))
	case "status":
		_ = statusCmd.Parse(os.Args[2:])
		dieIf(cmdStatus(*statusDir))
	case "show":
		_ = showCmd.Parse(os.Args[2:])
		dieIf(cmdShow(*showDir))
	case "reset":
		_ = resetCmd.Parse(os.Args[2:])
		dieIf(cmdReset(*resetDir, *resetYes))
	case "push":
		_ = pushCmd.Parse(os.Args[2:])
		dieIf(cmdPush(*pushDir, *pushServer, *pushUser))
	case "pull":
		_ = pullCmd.Parse(os.Args[2:])
		dieIf(cmdPull(*pullDir, *pullServer, *pullUser))
	case "delete-remote":
		_ = delCmd.Parse(os.Args[2:])
		dieIf(cmdDeleteRemote(*delDir, *delServer, *delUser))
	case "token":
		_ = tokenCmd.Parse(os.Args[2:])
		dieIf(cmdToken(*tokenServer, *tokenCode))
	default:
		usage()
	}
}

// ============ Commands ============

func cmdInit(dir string) error {
	mgr := newManager(dir)
	if mgr.State() != session.StateSetup {
		return fmt.Errorf("vault already exists in %s", dir)
	}
	secret, err := prompt("API token to protect: ")
	if err != nil {
		return err
	}
	password, err := prompt("vault password: ")
	if err != nil {
		return err
	}
	if err := mgr.Create(secret, password); err != nil {
		return err
	}
	fmt.Println("vault created and unlocked")
	return nil
}

func cmdUnlock(dir string) error {
	mgr := newManager(dir)
	if mgr.Resume() {
		fmt.Println("unlocked from session cache")
		return nil
	}
	password, err := prompt("vault password: ")
	if err != nil {
		return err
	}
	if err := mgr.Unlock(password); err != nil {
		return err
	}
	fmt.Println("unlocked")
	return nil
}

func cmdLock(dir string) error {
	mgr := newManager(dir)
	mgr.Resume()
	mgr.Lock()
	fmt.Println("locked")
	return nil
}

func cmdStatus(dir string) error {
	mgr := newManager(dir)
	mgr.Resume()
	st := mgr.State()
	fmt.Printf("state: %s\n", st)
	if at, ok := mgr.AutoLockAt(); ok {
		fmt.Printf("auto-lock at: %s\n", at.Format(time.RFC3339))
	}
	cs, err := loadCtlState(dir)
	if err == nil && cs.LocalVersion > 0 {
		fmt.Printf("sync version: %d (device %s)\n", cs.LocalVersion, cs.DeviceID)
	}
	return nil
}

func cmdShow(dir string) error {
	mgr := newManager(dir)
	if !mgr.Resume() {
		password, err := prompt("vault password: ")
		if err != nil {
			return err
		}
		if err := mgr.Unlock(password); err != nil {
			return err
		}
	}
	secret, err := mgr.Secret()
	if err != nil {
		return err
	}
	fmt.Println(secret)
	return nil
}

func cmdReset(dir string, yes bool) error {
	if !yes {
		answer, err := prompt("this destroys the vault irrecoverably; type 'yes' to continue: ")
		if err != nil {
			return err
		}
		if answer != "yes" {
			fmt.Println("aborted")
			return nil
		}
	}
	mgr := newManager(dir)
	if err := mgr.Reset(); err != nil {
		return err
	}
	fmt.Println("vault reset")
	return nil
}

func cmdPush(dir, server, user string) error {
	if user == "" {
		return fmt.Errorf("--user required")
	}
	store := vault.NewStore(vaultPath(dir))
	rec, err := store.Load()
	if err != nil {
		return err
	}
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	cfg, _ := store.Config()

	client, cs := newSyncClient(dir, server)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Push(ctx, user, string(blob), cfg); err != nil {
		return err
	}
	cs.LocalVersion = client.LocalVersion()
	cs.DeviceID = client.DeviceID()
	if err := saveCtlState(dir, cs); err != nil {
		return err
	}
	fmt.Printf("pushed version %d\n", cs.LocalVersion)
	return nil
}

func cmdPull(dir, server, user string) error {
	if user == "" {
		return fmt.Errorf("--user required")
	}
	client, cs := newSyncClient(dir, server)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	bundle, err := client.Pull(ctx, user)
	if err != nil {
		return err
	}

	var rec crypto.Record
	if err := json.Unmarshal([]byte(bundle.Vault), &rec); err != nil {
		return fmt.Errorf("remote bundle is not a vault record: %w", err)
	}
	store := vault.NewStore(vaultPath(dir))
	if err := store.Save(rec); err != nil {
		return err
	}
	if len(bundle.Config) > 0 {
		if err := store.SaveConfig(bundle.Config); err != nil {
			return err
		}
	}
	cs.LocalVersion = client.LocalVersion()
	cs.DeviceID = client.DeviceID()
	if err := saveCtlState(dir, cs); err != nil {
		return err
	}
	fmt.Printf("pulled version %d\n", bundle.Meta.Version)
	return nil
}

func cmdDeleteRemote(dir, server, user string) error {
	if user == "" {
		return fmt.Errorf("--user required")
	}
	client, _ := newSyncClient(dir, server)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Delete(ctx, user); err != nil {
		return err
	}
	fmt.Println("remote bundle deleted")
	return nil
}

func cmdToken(server, code string) error {
	if code == "" {
		return fmt.Errorf("--code required")
	}
	body, err := json.Marshal(map[string]string{"accessCode": code})
	if err != nil {
		return err
	}
	resp, err := http.Post(server+"/api/auth/token", "application/json", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var out struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expiresAt"`
		Error     string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token request failed: %s", out.Error)
	}
	fmt.Println(out.Token)
	fmt.Printf("expires: %s\n", time.Unix(out.ExpiresAt, 0).Format(time.RFC3339))
	return nil
}

// ============ Helpers ============

type ctlState struct {
	DeviceID     string `json:"deviceId"`
	LocalVersion int64  `json:"localVersion"`
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tokenvault"
	}
	return filepath.Join(home, ".tokenvault")
}

func vaultPath(dir string) string { return filepath.Join(dir, "vault.json") }
func cachePath(dir string) string { return filepath.Join(dir, "session.cache") }
func statePath(dir string) string { return filepath.Join(dir, "state.json") }

func newManager(dir string) *session.Manager {
	store := vault.NewStore(vaultPath(dir))
	cache := session.NewFileCache(cachePath(dir))
	return session.NewManager(store, cache, session.Config{})
}

func newSyncClient(dir, server string) (*syncer.Client, ctlState) {
	client := syncer.NewClient(server)
	cs, err := loadCtlState(dir)
	if err == nil {
		client.Restore(cs.DeviceID, cs.LocalVersion)
	}
	return client, cs
}

func loadCtlState(dir string) (ctlState, error) {
	var cs ctlState
	b, err := os.ReadFile(statePath(dir))
	if err != nil {
		return cs, err
	}
	err = json.Unmarshal(b, &cs)
	return cs, err
}

func saveCtlState(dir string, cs ctlState) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(statePath(dir), b, 0o600)
}

func prompt(label string) (string, error) {
	fmt.Print(label)
	r := bufio.NewReader(os.Stdin)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`vaultctl commands:

  init           create a vault in the state directory
  unlock         unlock (resumes from the session cache when live)
  lock           drop the secret and clear the session cache
  status         print lock state and sync version
  show           print the protected secret (unlocks if needed)
  reset          destroy the vault irrecoverably
  push           upload the encrypted vault   --server URL --user EMAIL
  pull           download the encrypted vault --server URL --user EMAIL
  delete-remote  remove the remote bundle     --server URL --user EMAIL
  token          request a proxy token        --server URL --code CODE

Common flags: --dir (state directory, default ~/.tokenvault)
`)
}
