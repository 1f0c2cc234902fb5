package configfx

import (
	"os"

	"github.com/spf13/pflag"
)

func PFlags() (*pflag.FlagSet, error) {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)

	// Config file flag
	fs.StringP("config", "c", "", "Config file")
	fs.String("env-file", ".env", "Dotenv file loaded before reading the environment")
	fs.String("server.address", ":8080", "HTTP listen address")
	fs.String("log.level", "info", "Log level")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	return fs, nil
}
