package irc

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// scramClient implements the client side of SCRAM (RFC 5802) for the
// SHA-256 and SHA-512 variants, without channel binding.
type scramClient struct {
	mechanism string
	username  string
	password  string
	newHash   func() hash.Hash

	step        int
	clientNonce string

	clientFirstBare string
	authMessage     string
	serverKey       []byte
}

func newScramClient(mechanism, username, password string) (*scramClient, error) {
	c := &scramClient{
		mechanism: mechanism,
		username:  username,
		password:  password,
	}
	switch mechanism {
	case "SCRAM-SHA-256":
		c.newHash = sha256.New
	case "SCRAM-SHA-512":
		c.newHash = sha512.New
	default:
		return nil, fmt.Errorf("unsupported SCRAM mechanism %q", mechanism)
	}

	nonce := make([]byte, 18)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	c.clientNonce = base64.StdEncoding.EncodeToString(nonce)
	return c, nil
}

func (c *scramClient) Mechanism() string { return c.mechanism }

func (c *scramClient) Step(challenge []byte) ([]byte, error) {
	defer func() { c.step++ }()
	switch c.step {
	case 0:
		c.clientFirstBare = "n=" + escapeSCRAMName(c.username) + ",r=" + c.clientNonce
		return []byte("n,," + c.clientFirstBare), nil
	case 1:
		return c.clientFinal(string(challenge))
	case 2:
		return nil, c.verifyServerFinal(string(challenge))
	default:
		return nil, fmt.Errorf("unexpected SCRAM challenge %q", challenge)
	}
}

func (c *scramClient) clientFinal(serverFirst string) ([]byte, error) {
	params := parseSCRAMParams(serverFirst)

	serverNonce, ok := params["r"]
	if !ok || !strings.HasPrefix(serverNonce, c.clientNonce) {
		return nil, fmt.Errorf("server nonce %q does not extend client nonce", serverNonce)
	}
	saltB64, ok := params["s"]
	if !ok {
		return nil, fmt.Errorf("server-first message missing salt")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	iterations, err := strconv.Atoi(params["i"])
	if err != nil || iterations <= 0 {
		return nil, fmt.Errorf("bad iteration count %q", params["i"])
	}

	salted := pbkdf2.Key([]byte(c.password), salt, iterations, c.newHash().Size(), c.newHash)
	clientKey := computeHMAC(c.newHash, salted, "Client Key")
	storedKey := computeHash(c.newHash, clientKey)
	c.serverKey = computeHMAC(c.newHash, salted, "Server Key")

	withoutProof := "c=" + base64.StdEncoding.EncodeToString([]byte("n,,")) + ",r=" + serverNonce
	c.authMessage = c.clientFirstBare + "," + serverFirst + "," + withoutProof

	signature := computeHMAC(c.newHash, storedKey, c.authMessage)
	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ signature[i]
	}

	final := withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)
	return []byte(final), nil
}

func (c *scramClient) verifyServerFinal(serverFinal string) error {
	params := parseSCRAMParams(serverFinal)
	signature, ok := params["v"]
	if !ok {
		return fmt.Errorf("server-final message missing verifier")
	}
	expected := base64.StdEncoding.EncodeToString(computeHMAC(c.newHash, c.serverKey, c.authMessage))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("server signature mismatch")
	}
	return nil
}

// escapeSCRAMName applies the saslname encoding from RFC 5802 §5.1.
func escapeSCRAMName(name string) string {
	name = strings.ReplaceAll(name, "=", "=3D")
	return strings.ReplaceAll(name, ",", "=2C")
}

func parseSCRAMParams(message string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(message, ",") {
		if len(part) >= 2 && part[1] == '=' {
			params[part[:1]] = part[2:]
		}
	}
	return params
}

func computeHMAC(newHash func() hash.Hash, key []byte, data string) []byte {
	mac := hmac.New(newHash, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func computeHash(newHash func() hash.Hash, data []byte) []byte {
	h := newHash()
	h.Write(data)
	return h.Sum(nil)
}
