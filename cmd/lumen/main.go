// Command lumen is the Lumen interpreter: run a script file, or drop
// into a REPL when invoked with none.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/mattn/go-isatty"

	"lumen/internal/ast"
	"lumen/internal/compiler"
	"lumen/internal/config"
	"lumen/internal/lexer"
	"lumen/internal/natives"
	"lumen/internal/parser"
	"lumen/internal/token"
	"lumen/internal/vm"
)

const version = "v0.1.0"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Println("recovered from panic:", r)
			debug.PrintStack()
		}
	}()

	showDisasm := flag.Bool("disassembly", false, "show bytecode disassembly before running")
	showVersion := flag.Bool("version", false, "show version information")
	showHelp := flag.Bool("help", false, "show this help message")
	configPath := flag.String("config", "lumen.yaml", "path to the project config file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lumen [options] [file]\n\nOptions:\n")
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  --%s\n\t%s\n", f.Name, f.Usage)
		})
	}
	flag.Parse()

	if *showHelp {
		flag.Usage()
		return
	}
	if *showVersion {
		fmt.Printf("Lumen %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lumen: %s\n", err)
		os.Exit(1)
	}
	disasm := *showDisasm || cfg.REPL.Disassemble

	args := flag.Args()
	if len(args) < 1 {
		startREPL(cfg, disasm)
		return
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "lumen: reading %s: %s\n", args[0], err)
		os.Exit(1)
	}
	runFile(cfg, args[0], string(content), disasm)
}

func runFile(cfg *config.Config, filename, source string, disasm bool) {
	l := lexer.New(source)
	p := parser.New(l)
	program := p.ParseProgram()
	if len(p.Errors()) > 0 {
		for _, msg := range p.Errors() {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(1)
	}

	c, errs := compiler.Compile(program, filename)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e.Error())
		}
		os.Exit(1)
	}

	if disasm {
		c.DisassembleAll(filename)
		fmt.Println()
	}

	machine := vm.New()
	registry := natives.Install(machine, cfg, bufio.NewReader(os.Stdin))
	defer registry.Close()

	if _, err := machine.Interpret(c); err != nil {
		fmt.Fprintf(os.Stderr, "lumen: %s\n", err)
		os.Exit(1)
	}
}

func startREPL(cfg *config.Config, disasm bool) {
	fmt.Printf("Lumen %s\n", version)
	fmt.Println("Type 'exit' to quit.")

	machine := vm.New()
	registry := natives.Install(machine, cfg, bufio.NewReader(os.Stdin))
	defer registry.Close()

	scanner := bufio.NewScanner(os.Stdin)
	interactive := isatty.IsTerminal(os.Stdin.Fd())
	var inputBuffer string

	for {
		if interactive {
			if inputBuffer == "" {
				fmt.Print(">>> ")
			} else {
				fmt.Print("... ")
			}
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if strings.TrimSpace(line) == "exit" {
			break
		}
		if strings.TrimSpace(line) == "" && inputBuffer == "" {
			continue
		}

		if inputBuffer == "" {
			inputBuffer = line
		} else {
			inputBuffer += "\n" + line
		}

		l := lexer.New(inputBuffer)
		p := parser.New(l)
		program := p.ParseProgram()

		if len(p.Errors()) > 0 {
			if incompleteInput(p.Errors()) {
				continue
			}
			for _, msg := range p.Errors() {
				fmt.Println(msg)
			}
			inputBuffer = ""
			continue
		}

		echoBareExpression(program)

		c, errs := compiler.Compile(program, "repl")
		if len(errs) > 0 {
			for _, e := range errs {
				fmt.Println(e.Error())
			}
			inputBuffer = ""
			continue
		}

		if disasm {
			c.DisassembleAll("repl")
		}

		if _, err := machine.Interpret(c); err != nil {
			fmt.Printf("runtime error: %s\n", err)
		}

		inputBuffer = ""
	}
}

// incompleteInput reports whether a parse failure looks like the
// input was cut off mid-block rather than genuinely malformed, so the
// REPL can keep reading lines instead of surfacing an error.
func incompleteInput(errs []string) bool {
	for _, msg := range errs {
		if strings.Contains(msg, "found end of file") || strings.Contains(msg, "found EOF") {
			return true
		}
	}
	return false
}

// echoBareExpression rewrites a lone expression statement entered at
// the REPL into an echo(...) call, so typing "1 + 1" prints 2 the way
// a calculator session would.
func echoBareExpression(program *ast.Block) {
	if len(program.Statements) != 1 {
		return
	}
	exprStmt, ok := program.Statements[0].(*ast.ExpressionStmt)
	if !ok {
		return
	}
	if _, isCall := exprStmt.Expression.(*ast.CallExpr); isCall {
		return
	}
	call := &ast.CallExpr{
		Token:  token.Token{Type: token.IDENTIFIER, Literal: "echo"},
		Callee: &ast.VariableExpr{Token: token.Token{Type: token.IDENTIFIER, Literal: "echo"}, Name: "echo"},
		Args:   []ast.Expression{exprStmt.Expression},
	}
	program.Statements[0] = &ast.ExpressionStmt{Token: exprStmt.Token, Expression: call}
}
