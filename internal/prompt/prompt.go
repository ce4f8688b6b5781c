// Package prompt assembles the templated prompt handed to the agent CLI
// and rejects injection attempts before they ever reach a subprocess.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/throw-if-null/bridge/internal/gwerror"
)

const maxAppendBytes = 2048

const template = `You are operating inside a bounded workspace. Follow the goal exactly and do not exceed the stated constraints.

Goal:
%s

Workspace: %s

Constraints:
- Stay within the given workspace.
- Do not read or modify files outside the workspace.
%s`

var templateDigest = func() string {
	sum := sha256.Sum256([]byte(template))
	return hex.EncodeToString(sum[:])[:16]
}()

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?(the )?previous instructions`),
	regexp.MustCompile(`(?i)disregard (all )?(the )?(prior |previous )?instructions`),
	regexp.MustCompile(`(?i)\betc/(passwd|shadow)\b`),
	regexp.MustCompile(`(?i)~/\.ssh\b`),
	regexp.MustCompile(`(?i)\bexfiltrate\b`),
}

// Digest returns the stable template-version digest recorded in a
// session's task.json, so operators can tell which prompt version an old
// session saw.
func Digest() string { return templateDigest }

// Build validates promptAppend and assembles the final prompt text for
// goal/workspace. It returns an InvalidInput error if promptAppend exceeds
// its size cap, and an InjectionBlocked error if goal or promptAppend match
// any known injection pattern.
func Build(goal, workspace, promptAppend string) (string, error) {
	if len(promptAppend) > maxAppendBytes {
		return "", gwerror.New(gwerror.InvalidInput, "prompt_append exceeds maximum length")
	}
	for _, p := range injectionPatterns {
		if p.MatchString(goal) {
			return "", gwerror.New(gwerror.InjectionBlocked, "goal matches a blocked instruction-injection pattern")
		}
		if p.MatchString(promptAppend) {
			return "", gwerror.New(gwerror.InjectionBlocked, "prompt_append matches a blocked instruction-injection pattern")
		}
	}

	constraints := ""
	if strings.TrimSpace(promptAppend) != "" {
		constraints = "- " + strings.TrimSpace(promptAppend) + "\n"
	}

	return fmt.Sprintf(template, goal, workspace, constraints), nil
}
