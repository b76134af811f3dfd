// Command malc compiles, disassembles and evaluates MAL expressions.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/pkg/errors"

	"github.com/chosenoffset/mal/pkg/mal/cache"
	"github.com/chosenoffset/mal/pkg/mal/collect"
	"github.com/chosenoffset/mal/pkg/mal/compiler"
	"github.com/chosenoffset/mal/pkg/mal/parser"
	"github.com/chosenoffset/mal/pkg/mal/rules"
	"github.com/chosenoffset/mal/pkg/mal/sample"
	"github.com/chosenoffset/mal/pkg/mal/unit"
	"github.com/chosenoffset/mal/pkg/mal/vm"
)

const (
	appName     = "malc"
	historyFile = ".malc_history"
	promptMain  = "mal> "
	promptCont  = "...> "
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	args := os.Args[2:]
	switch cmd := os.Args[1]; cmd {
	case "units":
		os.Exit(cmdUnits(args, os.Stdout))
	case "compile":
		os.Exit(cmdCompile(args, os.Stdout))
	case "eval":
		os.Exit(cmdEval(args, os.Stdout))
	case "check":
		os.Exit(cmdCheck(args, os.Stdout))
	case "repl":
		os.Exit(cmdRepl(args))
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n", appName, cmd)
		usage(os.Stderr)
		os.Exit(2)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage:
  %s units <expr>                            Print the postfix unit sequence.
  %s compile <expr>                          Print the compiled program.
  %s eval [-snapshot file.json] <expr>       Evaluate against a snapshot (default: Go runtime).
  %s check [-rules dir] [-manifest file]     Compile every rule and manifest entry.
  %s repl [-snapshot file.json]              Start an interactive console.
`, appName, appName, appName, appName, appName)
}

func cmdUnits(args []string, out io.Writer) int {
	src := strings.Join(args, " ")
	if src == "" {
		fmt.Fprintf(os.Stderr, "usage: %s units <expr>\n", appName)
		return 2
	}
	seq, err := translate(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for i, u := range seq {
		fmt.Fprintf(out, "%04d %s\n", i, u)
	}
	return 0
}

func translate(src string) (unit.Sequence, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	return unit.Translate(tree)
}

func cmdCompile(args []string, out io.Writer) int {
	src := strings.Join(args, " ")
	if src == "" {
		fmt.Fprintf(os.Stderr, "usage: %s compile <expr>\n", appName)
		return 2
	}
	p, err := compiler.CompileSource("expr", src)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Fprint(out, p)
	return 0
}

func cmdEval(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	snapPath := fs.String("snapshot", "", "JSON snapshot file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	src := strings.Join(fs.Args(), " ")
	if src == "" {
		fmt.Fprintf(os.Stderr, "usage: %s eval [-snapshot file.json] <expr>\n", appName)
		return 2
	}

	snapshot, err := loadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	p, err := compiler.CompileSource("expr", src)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	v, err := vm.Execute(p, snapshot)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Fprintln(out, v)
	return 0
}

// loadSnapshot reads path, or samples the Go runtime when path is empty.
func loadSnapshot(path string) (sample.Snapshot, error) {
	if path == "" {
		return collect.NewRuntimeCollector(1, time.Second, nil).Collect(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open snapshot %s", path)
	}
	defer f.Close()
	return collect.ReadSnapshot(f)
}

func cmdCheck(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	rulesDir := fs.String("rules", "", "directory of YAML rule files")
	manifest := fs.String("manifest", "", "manifest of id=expression lines")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *rulesDir == "" && *manifest == "" {
		fmt.Fprintf(os.Stderr, "usage: %s check [-rules dir] [-manifest file]\n", appName)
		return 2
	}

	b := cache.NewBuilder(nil)
	if *rulesDir != "" {
		files, err := rules.LoadDir(*rulesDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		for _, f := range files {
			entries, err := f.Entries()
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", f.Path, err)
				return 1
			}
			b.AddEntries(entries)
		}
	}
	if *manifest != "" {
		f, err := os.Open(*manifest)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		entries, err := cache.ParseManifest(f)
		f.Close()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		b.AddEntries(entries)
	}

	for _, err := range b.Errors() {
		fmt.Fprintln(out, "FAIL", err)
	}
	fmt.Fprintf(out, "%d compiled, %d failed\n", b.Len(), len(b.Errors()))
	if len(b.Errors()) > 0 {
		return 1
	}
	return 0
}

func cmdRepl(args []string) int {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	snapPath := fs.String("snapshot", "", "JSON snapshot file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	snapshot, err := loadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("MAL console. Families: %s\n", strings.Join(collect.Names(snapshot), ", "))
	fmt.Println("Commands: :units <expr>, :compile <expr>, :load <file.json>, :families, :quit")

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	for {
		code, ok := readExpression(ln, promptMain, promptCont)
		if !ok {
			fmt.Println()
			return 0
		}
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))

		if strings.HasPrefix(code, ":") {
			cmd, rest, _ := strings.Cut(code, " ")
			switch cmd {
			case ":quit", ":q":
				return 0
			case ":units":
				cmdUnits([]string{rest}, os.Stdout)
			case ":compile":
				cmdCompile([]string{rest}, os.Stdout)
			case ":families":
				fmt.Println(strings.Join(collect.Names(snapshot), "\n"))
			case ":load":
				s, err := loadSnapshot(strings.TrimSpace(rest))
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}
				snapshot = s
				fmt.Printf("loaded %d families\n", len(snapshot))
			default:
				fmt.Println("unknown command. Type :quit to exit.")
			}
			continue
		}

		p, err := compiler.CompileSource("repl", code)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		v, err := vm.Execute(p, snapshot)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		fmt.Println(v)
	}
}

// readExpression keeps prompting while the brackets of the input are
// still open.
func readExpression(ln *liner.State, prompt, cont string) (string, bool) {
	var b strings.Builder

	for {
		var line string
		var err error
		if b.Len() == 0 {
			line, err = ln.Prompt(prompt)
		} else {
			line, err = ln.Prompt(cont)
		}
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if strings.HasPrefix(strings.TrimSpace(src), ":") || !incomplete(src) {
			return src, true
		}
	}
}

// incomplete reports whether src has more opening than closing brackets.
func incomplete(src string) bool {
	l := parser.NewLexer(src)
	depth := 0
	for tok := l.NextToken(); tok.Type != parser.EOF; tok = l.NextToken() {
		switch tok.Type {
		case parser.LPAREN, parser.LBRACE, parser.LBRACKET:
			depth++
		case parser.RPAREN, parser.RBRACE, parser.RBRACKET:
			depth--
		}
	}
	return depth > 0
}
