package patch

import (
	"regexp"
	"strings"
)

// verbPattern recognizes the apply_patch invocation verb, with or without
// the underscore, as well as the begin_patch/beginpatch aliases the
// original tool also dispatches to the same parser, as the first shell
// word of a command.
var verbPattern = regexp.MustCompile(`^\s*(?:apply_patch|applypatch|begin_patch|beginpatch)\b`)

// verbOccurrencePattern locates the first standalone occurrence of the verb
// anywhere in a command line, so a recognized prefix (cd/set) preceding it
// can be validated and stripped without disturbing the heredoc body that
// follows, which may itself contain any of these characters.
var verbOccurrencePattern = regexp.MustCompile(`(?:^|[\s;&|])(apply_patch|applypatch|begin_patch|beginpatch)\b`)

// heredocPattern captures a bash heredoc introducer: `<<`, an optional `-`
// (strip leading tabs) or `~` (indented heredoc), an optional quote
// character around the delimiter, and the delimiter word itself.
var heredocPattern = regexp.MustCompile(`<<[-~]?\s*['"]?([A-Za-z0-9_]+)['"]?`)

// setPipefailPattern matches the `set -euo pipefail` (or similar
// `set -eu pipefail`) safety prologue a shell script may carry before the
// apply_patch invocation.
var setPipefailPattern = regexp.MustCompile(`^set\s+-\w*\s*pipefail$`)

// cdPattern matches a single `cd <path>` segment.
var cdPattern = regexp.MustCompile(`^cd\s+(\S+)$`)

// prefixConnectorPattern splits a command prefix on shell connectors,
// keeping track of which connector separated each segment so `||`/`|` can
// be rejected while `&&`/`;` are accepted.
var prefixConnectorPattern = regexp.MustCompile(`\|\||&&|;|\|`)

// Invocation is the result of parsing a full shell command line down to
// the patch body it carries and the working directory (if any) a leading
// `cd` segment establishes.
type Invocation struct {
	Body       string
	WorkingDir string
}

// ExtractHeredocBody pulls a patch body out of a full shell command line of
// the form produced by a model tool call:
//
//	apply_patch <<'PATCH'
//	*** Begin Patch
//	...
//	*** End Patch
//	PATCH
//
// or the same wrapped in `bash -lc '...'`. If shellCommand does not begin
// (after unwrapping an optional bash -lc wrapper and a recognized cd/set
// prologue) with the apply_patch verb, ExtractHeredocBody returns
// ImplicitInvocationError — the caller issued a raw patch body without
// going through the documented entry point.
func ExtractHeredocBody(shellCommand string) (string, error) {
	inv, err := ExtractInvocation(shellCommand)
	if err != nil {
		return "", err
	}
	return inv.Body, nil
}

// ExtractInvocation is ExtractHeredocBody plus the working directory a
// leading `cd <path>` (or `cd <path> && ...`) segment establishes; the
// final `cd` segment before the verb wins.
func ExtractInvocation(shellCommand string) (Invocation, error) {
	unwrapped := unwrapBashLc(shellCommand)

	command, workingDir, ok := stripInvocationPrefix(unwrapped)
	if !ok {
		return Invocation{}, &ImplicitInvocationError{}
	}

	loc := heredocPattern.FindStringSubmatchIndex(command)
	if loc == nil {
		// No heredoc: treat everything after the verb as the literal body,
		// for a command that carries the patch inline after the verb
		// rather than in a heredoc.
		body := strings.TrimSpace(verbPattern.ReplaceAllString(command, ""))
		if body == "" {
			return Invocation{}, &InvalidPatchError{Message: "apply_patch invocation carries no patch body"}
		}
		return Invocation{Body: body, WorkingDir: workingDir}, nil
	}

	delimiter := command[loc[2]:loc[3]]
	rest := command[loc[1]:]
	// Skip to the first newline after the heredoc introducer; everything up
	// to that point is the remainder of the introducer line itself.
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		rest = rest[idx+1:]
	} else {
		rest = ""
	}

	lines := strings.Split(rest, "\n")
	var body []string
	for _, line := range lines {
		if strings.TrimRight(line, " \t") == delimiter {
			break
		}
		body = append(body, line)
	}
	return Invocation{Body: strings.Join(body, "\n"), WorkingDir: workingDir}, nil
}

// stripInvocationPrefix locates the apply_patch verb in command and
// validates anything before it against the recognized prologue: any
// combination of a `set -euo pipefail` safety line and `cd <path>`
// segments, joined only by `&&` or `;` (a `||` or `|` connector, or any
// other leading text, is rejected). It returns the command starting at the
// verb, the working directory from the last `cd` segment seen (if any),
// and whether the prefix was recognized at all.
func stripInvocationPrefix(command string) (rest string, workingDir string, ok bool) {
	loc := verbOccurrencePattern.FindStringSubmatchIndex(command)
	if loc == nil {
		return command, "", false
	}
	prefix := command[:loc[2]]
	rest = command[loc[2]:]

	segments, connectors := splitPrefixSegments(prefix)
	for i, seg := range segments {
		if i > 0 {
			conn := strings.TrimSpace(connectors[i-1])
			if conn == "||" || conn == "|" {
				return "", "", false
			}
		}
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		switch {
		case setPipefailPattern.MatchString(seg):
			// Safety prologue only; no effect on extraction.
		case cdPattern.MatchString(seg):
			workingDir = cdPattern.FindStringSubmatch(seg)[1]
		default:
			return "", "", false
		}
	}
	return rest, workingDir, true
}

// splitPrefixSegments splits prefix on shell connectors, returning the
// segments and the connector token that followed each one (so connectors
// has len(segments)-1 entries).
func splitPrefixSegments(prefix string) (segments []string, connectors []string) {
	locs := prefixConnectorPattern.FindAllStringIndex(prefix, -1)
	start := 0
	for _, loc := range locs {
		segments = append(segments, prefix[start:loc[0]])
		connectors = append(connectors, prefix[loc[0]:loc[1]])
		start = loc[1]
	}
	segments = append(segments, prefix[start:])
	return segments, connectors
}

// unwrapBashLc strips a `bash -lc '...'` (or `sh -c "..."`) wrapper, leaving
// the quoted script's contents, since models frequently route apply_patch
// calls through a shell wrapper rather than invoking the binary directly.
func unwrapBashLc(command string) string {
	trimmed := strings.TrimSpace(command)
	for _, prefix := range []string{"bash -lc ", "bash -c ", "sh -c "} {
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
		if len(rest) < 2 {
			continue
		}
		quote := rest[0]
		if quote != '\'' && quote != '"' {
			continue
		}
		if rest[len(rest)-1] == quote {
			return rest[1 : len(rest)-1]
		}
		return rest[1:]
	}
	return command
}
