package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	testutil "habit-progress/tests"
)

type seedMembers struct {
	Groups []struct {
		MemberIDs []string `json:"memberIds"`
	} `json:"groups"`
}

func main() {
	var (
		seed   = flag.String("seed", "", "seed file; generates one token per group member")
		output = flag.String("output", "", "file to write tokens as a JSON object keyed by user id")
	)
	flag.Parse()

	users := flag.Args()
	if *seed != "" {
		ids, err := membersFromSeed(*seed)
		if err != nil {
			log.Fatalf("read seed: %v", err)
		}
		users = append(users, ids...)
	}
	if len(users) == 0 {
		log.Fatal("pass user ids or -seed")
	}

	tokens := make(map[string]string, len(users))
	for _, u := range users {
		tok, err := testutil.TestToken(u)
		if err != nil {
			log.Fatalf("generate token: %v", err)
		}
		tokens[u] = tok
	}

	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
		return
	}
	fmt.Print(tokens[users[0]])
}

func membersFromSeed(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s seedMembers
	if err := sonic.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, g := range s.Groups {
		for _, m := range g.MemberIDs {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			ids = append(ids, m)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func writeTokens(path string, tokens map[string]string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
