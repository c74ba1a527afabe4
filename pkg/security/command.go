package security

import (
	"path"
	"slices"
	"strings"
)

// maxShellDepth bounds how many nested "sh -c" scripts are expanded.
const maxShellDepth = 4

// wrappers run their first non-option argument as a program. The value lists
// the options that consume the following word.
var wrappers = map[string][]string{
	"env":     {"-u", "-C", "-S"},
	"sudo":    {"-u", "-g", "-C", "-h", "-p"},
	"doas":    {"-u", "-C"},
	"nohup":   nil,
	"exec":    {"-a"},
	"command": nil,
	"builtin": nil,
	"time":    {"-f", "-o"},
	"nice":    {"-n"},
	"ionice":  {"-c", "-n"},
	"timeout": {"-s", "-k"},
	"xargs":   {"-I", "-n", "-P", "-d", "-L", "-s", "-E"},
	"stdbuf":  {"-i", "-o", "-e"},
}

// positional counts the leading positional arguments a wrapper takes before
// the wrapped program.
var positional = map[string]int{"timeout": 1}

var shells = map[string]struct{}{
	"sh": {}, "bash": {}, "zsh": {}, "dash": {}, "ksh": {}, "ash": {},
}

// commandSegments splits a shell command line into the simple commands it
// would run. Each segment is normalised so its program is a bare name:
// "sudo /usr/bin/curl -s x" yields "curl -s x". Assignments and wrappers are
// stripped, and the script of "sh -c" is expanded in place.
func commandSegments(cmd string) []string {
	return appendSegments(nil, cmd, 0)
}

func appendSegments(dst []string, cmd string, depth int) []string {
	for _, part := range splitCommands(cmd) {
		words := shellWords(part)
		words = unwrap(words)
		if len(words) == 0 {
			continue
		}
		prog := path.Base(words[0])
		if _, ok := shells[prog]; ok && depth < maxShellDepth {
			if script, ok := shellScript(words[1:]); ok {
				dst = appendSegments(dst, script, depth+1)
				continue
			}
		}
		words[0] = prog
		dst = append(dst, strings.Join(words, " "))
	}
	return dst
}

// splitCommands cuts at control operators outside quotes. Command
// substitutions start a new segment even inside double quotes.
func splitCommands(cmd string) []string {
	var (
		out    []string
		cur    strings.Builder
		single bool
		double bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		switch {
		case single:
			if c == '\'' {
				single = false
			}
			cur.WriteByte(c)
		case c == '\\' && i+1 < len(cmd):
			cur.WriteByte(c)
			cur.WriteByte(cmd[i+1])
			i++
		case c == '`':
			flush()
		case c == '$' && i+1 < len(cmd) && cmd[i+1] == '(':
			flush()
			i++
		case double:
			if c == '"' {
				double = false
			}
			cur.WriteByte(c)
		case c == '\'':
			single = true
			cur.WriteByte(c)
		case c == '"':
			double = true
			cur.WriteByte(c)
		case c == ';', c == '&', c == '|', c == '\n', c == '(', c == ')':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

// shellWords splits a simple command into words and removes quoting.
func shellWords(s string) []string {
	var (
		out    []string
		cur    strings.Builder
		inWord bool
		quote  byte
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
				continue
			}
			if c == '\\' && quote == '"' && i+1 < len(s) {
				i++
				c = s[i]
			}
			cur.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
			inWord = true
		case c == ' ' || c == '\t' || c == '\r':
			if inWord {
				out = append(out, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}
	if inWord {
		out = append(out, cur.String())
	}
	return out
}

// unwrap drops leading assignments and wrapper programs with their options.
func unwrap(words []string) []string {
	for {
		words = dropAssignments(words)
		if len(words) == 0 {
			return words
		}
		name := path.Base(words[0])
		valued, ok := wrappers[name]
		if !ok {
			return words
		}
		words = words[1:]
		for len(words) > 0 && strings.HasPrefix(words[0], "-") {
			flag := words[0]
			words = words[1:]
			if flag == "--" {
				break
			}
			if slices.Contains(valued, flag) && len(words) > 0 {
				words = words[1:]
			}
		}
		if name == "env" {
			words = dropAssignments(words)
		}
		for n := positional[name]; n > 0 && len(words) > 0; n-- {
			words = words[1:]
		}
	}
}

func dropAssignments(words []string) []string {
	for len(words) > 0 && isAssignment(words[0]) {
		words = words[1:]
	}
	return words
}

func isAssignment(word string) bool {
	name, _, ok := strings.Cut(word, "=")
	if !ok || name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// shellScript returns the argument of a -c option, including combined forms
// such as -lc or -ec.
func shellScript(args []string) (string, bool) {
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") || strings.HasPrefix(arg, "--") {
			return "", false
		}
		if strings.ContainsRune(arg[1:], 'c') && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}
