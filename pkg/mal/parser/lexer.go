package parser

type TokenType int

const (
	// Special tokens
	ILLEGAL TokenType = iota
	EOF

	// Literals
	IDENT  // sample family names, method names, closure params
	INT    // integers
	FLOAT  // floating point numbers
	STRING // 'single' or "double" quoted

	// Keywords
	IF
	ELSE
	TRUE
	FALSE

	// Operators
	ASSIGN   // =
	PLUS     // +
	MINUS    // -
	ASTERISK // *
	SLASH    // /
	EQ       // ==
	NOT_EQ   // !=
	LT       // <
	GT       // >
	LTE      // <=
	GTE      // >=
	AND      // &&
	OR       // ||
	NOT      // !
	ARROW    // ->

	// Delimiters
	COMMA     // ,
	SEMICOLON // ;
	DOT       // .

	LPAREN   // (
	RPAREN   // )
	LBRACE   // {
	RBRACE   // }
	LBRACKET // [
	RBRACKET // ]
)

type Token struct {
	Type     TokenType
	Literal  string
	Position int
	Line     int
	Column   int
}

var keywords = map[string]TokenType{
	"if":    IF,
	"else":  ELSE,
	"true":  TRUE,
	"false": FALSE,
}

type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination
	line         int
	column       int
}

func NewLexer(input string) *Lexer {
	l := &Lexer{
		input:  input,
		line:   1,
		column: 0,
	}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
	if l.ch == '\n' {
		l.line++
		l.column = 0
	} else {
		l.column++
	}
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// twoChar builds a two character token when the next char is next, otherwise
// a one character token of type single.
func (l *Lexer) twoChar(next byte, double, single TokenType) Token {
	if l.peekChar() == next {
		ch := l.ch
		pos, line, col := l.position, l.line, l.column
		l.readChar()
		return Token{Type: double, Literal: string(ch) + string(l.ch), Position: pos, Line: line, Column: col}
	}
	return newToken(single, l.ch, l.position, l.line, l.column)
}

func (l *Lexer) NextToken() Token {
	var tok Token

	l.skipWhitespace()

	tok.Position = l.position
	tok.Line = l.line
	tok.Column = l.column

	switch l.ch {
	case '=':
		tok = l.twoChar('=', EQ, ASSIGN)
	case '!':
		tok = l.twoChar('=', NOT_EQ, NOT)
	case '<':
		tok = l.twoChar('=', LTE, LT)
	case '>':
		tok = l.twoChar('=', GTE, GT)
	case '-':
		tok = l.twoChar('>', ARROW, MINUS)
	case '&':
		tok = l.twoChar('&', AND, ILLEGAL)
	case '|':
		tok = l.twoChar('|', OR, ILLEGAL)
	case '+':
		tok = newToken(PLUS, l.ch, l.position, l.line, l.column)
	case '*':
		tok = newToken(ASTERISK, l.ch, l.position, l.line, l.column)
	case '/':
		tok = newToken(SLASH, l.ch, l.position, l.line, l.column)
	case ',':
		tok = newToken(COMMA, l.ch, l.position, l.line, l.column)
	case ';':
		tok = newToken(SEMICOLON, l.ch, l.position, l.line, l.column)
	case '.':
		tok = newToken(DOT, l.ch, l.position, l.line, l.column)
	case '(':
		tok = newToken(LPAREN, l.ch, l.position, l.line, l.column)
	case ')':
		tok = newToken(RPAREN, l.ch, l.position, l.line, l.column)
	case '{':
		tok = newToken(LBRACE, l.ch, l.position, l.line, l.column)
	case '}':
		tok = newToken(RBRACE, l.ch, l.position, l.line, l.column)
	case '[':
		tok = newToken(LBRACKET, l.ch, l.position, l.line, l.column)
	case ']':
		tok = newToken(RBRACKET, l.ch, l.position, l.line, l.column)
	case '"', '\'':
		tok.Type = STRING
		lit, ok := l.readString(l.ch)
		tok.Literal = lit
		if !ok {
			tok.Type = ILLEGAL
		}
	case 0:
		tok.Literal = ""
		tok.Type = EOF
	default:
		if isLetter(l.ch) {
			tok.Literal = l.readIdentifier()
			tok.Type = lookupIdent(tok.Literal)
			return tok
		} else if isDigit(l.ch) {
			tok.Type, tok.Literal = l.readNumber()
			return tok
		} else {
			tok = newToken(ILLEGAL, l.ch, l.position, l.line, l.column)
		}
	}

	l.readChar()
	return tok
}

func newToken(tokenType TokenType, ch byte, position, line, column int) Token {
	return Token{
		Type:     tokenType,
		Literal:  string(ch),
		Position: position,
		Line:     line,
		Column:   column,
	}
}

func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[position:l.position]
}

func (l *Lexer) readNumber() (TokenType, string) {
	position := l.position
	tokenType := INT

	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == '.' && isDigit(l.peekChar()) {
		tokenType = FLOAT
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	return tokenType, l.input[position:l.position]
}

// readString consumes a quoted literal. A backslash escapes the next char.
// The second return is false when the input ends before the closing quote.
func (l *Lexer) readString(quote byte) (string, bool) {
	var out []byte
	for {
		l.readChar()
		switch l.ch {
		case 0:
			return string(out), false
		case quote:
			return string(out), true
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case 0:
				return string(out), false
			default:
				out = append(out, l.ch)
			}
		default:
			out = append(out, l.ch)
		}
	}
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func lookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}

var tokenNames = map[TokenType]string{
	ILLEGAL:   "ILLEGAL",
	EOF:       "EOF",
	IDENT:     "IDENT",
	INT:       "INT",
	FLOAT:     "FLOAT",
	STRING:    "STRING",
	IF:        "IF",
	ELSE:      "ELSE",
	TRUE:      "TRUE",
	FALSE:     "FALSE",
	ASSIGN:    "=",
	PLUS:      "+",
	MINUS:     "-",
	ASTERISK:  "*",
	SLASH:     "/",
	EQ:        "==",
	NOT_EQ:    "!=",
	LT:        "<",
	GT:        ">",
	LTE:       "<=",
	GTE:       ">=",
	AND:       "&&",
	OR:        "||",
	NOT:       "!",
	ARROW:     "->",
	COMMA:     ",",
	SEMICOLON: ";",
	DOT:       ".",
	LPAREN:    "(",
	RPAREN:    ")",
	LBRACE:    "{",
	RBRACE:    "}",
	LBRACKET:  "[",
	RBRACKET:  "]",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}
