package daemon

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/happy-coder/happy/internal/crypto"
	"github.com/happy-coder/happy/internal/logger"
	"github.com/happy-coder/happy/internal/relayauth"
)

// UnlockOrInit resolves the account master key. With HAPPY_MASTER_SECRET
// set (test environments only, per spec.md §6), it skips the credentials
// file entirely. Otherwise it prompts for a passphrase on the controlling
// terminal — on first run to create the credentials file, on every later
// run to unlock it — grounded on the teacher's term.ReadPassword prompt
// pattern (cmd/bureau/cli/login.go in the wider example pack).
func UnlockOrInit(ks *crypto.KeyStore, masterSecretHex, accountIDHint string) (accountID string, mk crypto.MasterKey, err error) {
	if masterSecretHex != "" {
		raw, err := hex.DecodeString(masterSecretHex)
		if err != nil {
			return "", mk, fmt.Errorf("parse HAPPY_MASTER_SECRET: %w", err)
		}
		mk, err = crypto.DeriveMasterKey(raw, accountIDHint)
		if err != nil {
			return "", mk, err
		}
		return accountIDHint, mk, nil
	}

	passphrase, err := promptPassphrase(!ks.IsInitialized())
	if err != nil {
		return "", mk, err
	}

	if !ks.IsInitialized() {
		if accountIDHint == "" {
			return "", mk, fmt.Errorf("first-run credentials init needs an account id")
		}
		mk, err = ks.Init(accountIDHint, passphrase)
		if err != nil {
			return "", mk, fmt.Errorf("initialize credentials: %w", err)
		}
		return accountIDHint, mk, nil
	}

	return ks.Unlock(passphrase)
}

func promptPassphrase(confirm bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal available for credentials passphrase (set HAPPY_MASTER_SECRET for non-interactive use)")
	}

	fmt.Fprint(os.Stderr, "Credentials passphrase: ")
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if !confirm {
		return string(pass), nil
	}

	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	again, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase confirmation: %w", err)
	}
	if string(pass) != string(again) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(pass), nil
}

// pairDevice runs spec.md §6's device-pairing flow end to end: request a
// code, print the operator's half of it, poll until claimed, and return
// the issued token for the caller to persist. Grounded on the teacher's internal/auth.go client functions,
// routed through relayauth's client half instead.
func pairDevice(ctx context.Context, baseURL, machineID string) (relayauth.TokenResponse, error) {
	dc, err := relayauth.RequestDeviceCode(ctx, baseURL, machineID)
	if err != nil {
		return relayauth.TokenResponse{}, fmt.Errorf("request device code: %w", err)
	}

	fmt.Fprintf(os.Stderr, "\nTo link this machine, enter this code at %s%s:\n\n    %s\n\n",
		baseURL, dc.VerificationURL, dc.UserCode)
	logger.Info("waiting for device pairing to be claimed", "userCode", dc.UserCode)

	tr, err := relayauth.PollForToken(ctx, baseURL, dc.DeviceCode, dc.Interval)
	if err != nil {
		return relayauth.TokenResponse{}, fmt.Errorf("poll for device token: %w", err)
	}
	return *tr, nil
}
