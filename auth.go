package relay

import (
	"bufio"
	"encoding/base64"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nats-io/nkeys"
)

// connectInfo is the field set buildConnect produces and that gets
// JSON-marshalled into the outbound CONNECT frame.
type connectInfo struct {
	Verbose      bool   `json:"verbose"`
	Pedantic     bool   `json:"pedantic"`
	TLSRequired  bool   `json:"tls_required,omitempty"`
	User         string `json:"user,omitempty"`
	Pass         string `json:"pass,omitempty"`
	AuthToken    string `json:"auth_token,omitempty"`
	JWT          string `json:"jwt,omitempty"`
	NKey         string `json:"nkey,omitempty"`
	Sig          string `json:"sig,omitempty"`
	Name         string `json:"name,omitempty"`
	Lang         string `json:"lang"`
	Version      string `json:"version"`
	Protocol     int    `json:"protocol"`
	Echo         bool   `json:"echo,omitempty"`
	Headers      bool   `json:"headers"`
	NoResponders bool   `json:"no_responders"`
}

// buildConnect turns the server's INFO nonce/auth_required/tls_required
// and the configured credentials into the CONNECT field set. Exactly one
// of {user/pass, token, nkey+sig, jwt+sig} is populated depending on what
// was configured; unknown/absent credentials simply leave those fields
// empty and let the broker reject the connection if its policy requires
// more.
func buildConnect(opts *Options, info *serverInfo) (*connectInfo, error) {
	ci := &connectInfo{
		Verbose:      opts.Verbose,
		Pedantic:     opts.Pedantic,
		Lang:         opts.Lang,
		Version:      opts.Version,
		Protocol:     1,
		Echo:         opts.EchoOwn,
		Headers:      true,
		NoResponders: true,
	}
	if info != nil && info.TLSRequired {
		ci.TLSRequired = true
	}

	switch {
	case opts.JWT != _EMPTY_:
		if err := validateCompactJWT(opts.JWT); err != nil {
			return nil, err
		}
		ci.JWT = opts.JWT
		if opts.Seed != _EMPTY_ {
			sig, err := signNonce(opts.Seed, info.Nonce)
			if err != nil {
				return nil, err
			}
			ci.Sig = sig
		}
	case opts.NKey != _EMPTY_:
		ci.NKey = opts.NKey
		if opts.Seed != _EMPTY_ {
			sig, err := signNonce(opts.Seed, info.Nonce)
			if err != nil {
				return nil, err
			}
			ci.Sig = sig
		} else if info != nil && info.Nonce != _EMPTY_ {
			return nil, ErrNKeyOrSeedMissing
		}
	case opts.Token != _EMPTY_:
		ci.AuthToken = opts.Token
	case opts.User != _EMPTY_:
		ci.User = opts.User
		ci.Pass = opts.Pass
	}

	return ci, nil
}

// signNonce signs nonce with the Ed25519 key parsed from an NKey seed and
// returns the URL-safe, unpadded base64 encoding of the signature, using
// github.com/nats-io/nkeys to wrap crypto/ed25519 with the NKey
// seed/public-key encoding.
func signNonce(seed, nonce string) (string, error) {
	kp, err := nkeys.FromSeed([]byte(seed))
	if err != nil {
		return _EMPTY_, err
	}
	sig, err := kp.Sign([]byte(nonce))
	if err != nil {
		return _EMPTY_, err
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

// validateCompactJWT is a local sanity check only: it confirms the
// configured string parses as a three-segment compact JWT before it is
// ever placed on the wire. It does not and cannot verify the signature,
// since the client does not hold the issuer's key — the broker does that.
func validateCompactJWT(token string) error {
	parser := jwt.NewParser()
	_, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return ErrMalformedJWT
	}
	return nil
}

// parseCredentialsFile reads a two-block NATS-style .creds file:
//
//	-----BEGIN NATS USER JWT-----
//	<jwt>
//	------END NATS USER JWT------
//
//	-----BEGIN USER NKEY SEED-----
//	<seed>
//	------END USER NKEY SEED------
func parseCredentialsFile(path string) (jwtStr, seed string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return _EMPTY_, _EMPTY_, err
	}
	defer f.Close()

	var (
		inJWT, inSeed   bool
		jwtBuf, seedBuf strings.Builder
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.Contains(line, "BEGIN NATS USER JWT"):
			inJWT = true
			continue
		case strings.Contains(line, "END NATS USER JWT"):
			inJWT = false
			continue
		case strings.Contains(line, "BEGIN USER NKEY SEED"):
			inSeed = true
			continue
		case strings.Contains(line, "END USER NKEY SEED"):
			inSeed = false
			continue
		}
		if inJWT {
			jwtBuf.WriteString(strings.TrimSpace(line))
		}
		if inSeed {
			seedBuf.WriteString(strings.TrimSpace(line))
		}
	}
	if err := sc.Err(); err != nil {
		return _EMPTY_, _EMPTY_, err
	}
	return jwtBuf.String(), seedBuf.String(), nil
}
