package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"

	"tiledeck/internal/qr"
)

var errUsage = errors.New("usage: pairqr <ws-url> | pairqr -host <ip> -port <n> -token <t>")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("pairqr", flag.ExitOnError)
	host := fs.String("host", "", "host address to encode")
	port := fs.Int("port", 8765, "host port")
	token := fs.String("token", "", "pairing token")
	fs.Parse(args)

	target := ""
	switch {
	case fs.NArg() > 0:
		target = fs.Arg(0)
	case *host != "" && *token != "":
		target = pairURL(*host, *port, *token)
	default:
		return errUsage
	}
	fmt.Fprintln(out, target)
	return qr.RenderANSI(out, target)
}

func pairURL(host string, port int, token string) string {
	u := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/ws",
		RawQuery: "token=" + url.QueryEscape(token),
	}
	return u.String()
}
