package cmd

import (
	"fmt"
	"io"
)

const banner = `
  _____                 _  __          
 |_   _|               | |/ /          
   | |  _ __ ___  _ __ | ' / ___ _   _ 
   | | | '__/ _ \| '_ \|  < / _ \ | | |
  _| |_| | | (_) | | | | . \  __/ |_| |
 |_____|_|  \___/|_| |_|_|\_\___|\__, |
                                  __/ |
                                 |___/ 
`

func printBanner(w io.Writer, tagline string) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  %s - Version %s\x1b[0m\n\n", tagline, Version)
}
