package main

import (
	"bytes"
	"io"

	"github.com/dimiro1/banner"
)

const version = "0.1.0"

func printBanner(w io.Writer, env string) {
	tpl := "{{ .Title \"IVR TESTER\" \"\" 0 }}\nVersion: " + version + "  Env: " + env + "\n"
	banner.Init(w, true, false, bytes.NewBufferString(tpl))
}
