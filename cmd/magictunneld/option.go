package magictunneld

// Options is the root command that groups sub-commands. The struct tags
// are interpreted by github.com/jessevdk/go-flags.
type Options struct {
	Config  string     `short:"f" long:"config" description:"gateway config YAML/JSON path"`
	Version bool       `short:"v" long:"version" description:"print version and exit"`
	Serve   *ServeCmd  `command:"serve" description:"Start the MCP gateway"`
	Lint    *LintCmd   `command:"lint" description:"Load and validate the catalog without serving"`
}

// Init instantiates the sub-command referenced by the first argument so
// that flags.Parse can populate its fields.
func (o *Options) Init(firstArg string) {
	switch firstArg {
	case "serve":
		o.Serve = &ServeCmd{}
	case "lint":
		o.Lint = &LintCmd{}
	}
}
