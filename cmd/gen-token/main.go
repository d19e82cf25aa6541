// Command gen-token prints HS256 bearer tokens accepted by the stream service
// when AUTH0_TEST_MODE=1. TEST_JWT_SECRET must match the service's secret.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

func main() {
	var (
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "load-user", "prefix for generated user ids when count > 1")
		start  = flag.Int("start", 1, "first index for generated user ids")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
		output = flag.String("output", "", "also write the tokens to this file as a JSON array")
	)
	flag.Parse()

	if *count < 1 || *start < 1 {
		log.Fatal("count and start must be at least 1")
	}
	if flag.NArg() > 0 && *count > 1 {
		log.Fatal("an explicit user id cannot be combined with count > 1")
	}

	secret := []byte(os.Getenv("TEST_JWT_SECRET"))
	tokens, err := generateTokens(secret, userIDs(*count, *prefix, *start, flag.Args()), *ttl, time.Now())
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

func userIDs(count int, prefix string, start int, args []string) []string {
	if len(args) > 0 {
		return args[:1]
	}
	if count == 1 {
		return []string{prefix}
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, start+i)
	}
	return ids
}

func generateTokens(secret []byte, ids []string, ttl time.Duration, now time.Time) ([]string, error) {
	if len(secret) == 0 {
		return nil, errors.New("TEST_JWT_SECRET must be set")
	}
	tokens := make([]string, len(ids))
	for i, id := range ids {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": id,
			"iat": now.Unix(),
			"exp": now.Add(ttl).Unix(),
		})
		tok, err := token.SignedString(secret)
		if err != nil {
			return nil, fmt.Errorf("sign token for %s: %w", id, err)
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.ConfigStd.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
