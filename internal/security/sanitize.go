package security

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// vmNameRegex validates inventory VM names
	// Allows: letters, numbers, underscores, hyphens, dots
	// Length: 1-64 characters
	vmNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.-]{0,62}[a-zA-Z0-9])?$`)

	// hostnameRegex validates hostnames and IPv4 addresses
	hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9.-]{0,251}[a-zA-Z0-9])?$`)

	// unixUserRegex validates guest login names
	// Windows guests allow upper case and dots, so this is looser than POSIX
	unixUserRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]{0,31}$`)

	// sensitiveLogPatterns used by SanitizeCommandForLog to mask secrets
	sensitiveLogPatterns = []string{
		"PASSWORD=",
		"PASSWD=",
		"TOKEN=",
		"SECRET=",
		"API_KEY=",
		"--password=",
	}
)

// ValidateVMName validates a VM name used as an inventory key and logger name
func ValidateVMName(name string) error {
	if name == "" {
		return fmt.Errorf("VM name cannot be empty")
	}
	if !vmNameRegex.MatchString(name) {
		return fmt.Errorf("VM name must contain only letters, numbers, dots, underscores, and hyphens (max 64 chars)")
	}
	return nil
}

// ValidateHostname validates a guest hostname or IP address
func ValidateHostname(host string) error {
	if host == "" {
		return fmt.Errorf("hostname cannot be empty")
	}
	if strings.Contains(host, "..") || !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname: %q", host)
	}
	return nil
}

// ValidateUser validates a guest login name
func ValidateUser(user string) error {
	if user == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if !unixUserRegex.MatchString(user) {
		return fmt.Errorf("invalid user name: %q", user)
	}
	return nil
}

// ShellEscape escapes a string for safe use in shell commands by wrapping it
// in single quotes and escaping any internal single quotes using the POSIX
// pattern: ' → '\''
func ShellEscape(s string) string {
	escaped := strings.ReplaceAll(s, "'", "'\\''")
	return "'" + escaped + "'"
}

// JoinArgs builds a single remote command line from argv. A lone argument is
// passed through untouched so callers can hand over a full shell snippet.
func JoinArgs(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	quoted := make([]string, len(args))
	for i, arg := range args {
		if arg != "" && !strings.ContainsAny(arg, " \t\n'\"\\$`;&|<>*?()[]{}") {
			quoted[i] = arg
			continue
		}
		quoted[i] = ShellEscape(arg)
	}
	return strings.Join(quoted, " ")
}

// SanitizeCommandForLog masks sensitive values in commands before logging.
// Output chunks are not touched, only the command line itself.
func SanitizeCommandForLog(cmd string) string {
	result := cmd

	for _, pattern := range sensitiveLogPatterns {
		searchFrom := 0
		for {
			idx := strings.Index(strings.ToUpper(result[searchFrom:]), strings.ToUpper(pattern))
			if idx == -1 {
				break
			}
			absIdx := searchFrom + idx
			valueStart := absIdx + len(pattern)
			valueEnd := findValueEnd(result, valueStart)
			masked := "****"
			result = result[:valueStart] + masked + result[valueEnd:]
			// Advance past the replacement to avoid infinite loop
			searchFrom = valueStart + len(masked)
		}
	}

	return result
}

// findValueEnd finds where a shell value ends (handles quoted and unquoted values)
func findValueEnd(s string, start int) int {
	if start >= len(s) {
		return start
	}

	if s[start] == '\'' || s[start] == '"' {
		end := strings.IndexByte(s[start+1:], s[start])
		if end == -1 {
			return len(s)
		}
		return start + end + 2
	}

	for i := start; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '\t' || s[i] == '\n' {
			return i
		}
	}
	return len(s)
}
