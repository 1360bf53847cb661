package main

import (
	"os"
	"os/exec"

	"github.com/goyek/goyek/v2"
)

func run(a *goyek.A, name string, args ...string) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		a.Error(err)
	}
}

var vet = goyek.Define(goyek.Task{
	Name:  "vet",
	Usage: "Run go vet on all packages",
	Action: func(a *goyek.A) {
		run(a, "go", "vet", "./...")
	},
})

var test = goyek.Define(goyek.Task{
	Name:  "test",
	Usage: "Run unit tests, skipping subprocess tests",
	Action: func(a *goyek.A) {
		run(a, "go", "test", "-short", "-race", "./...")
	},
})

var testAll = goyek.Define(goyek.Task{
	Name:  "test-all",
	Usage: "Run all tests including subprocess tests",
	Action: func(a *goyek.A) {
		run(a, "go", "test", "-race", "./...")
	},
})

var _ = goyek.Define(goyek.Task{
	Name:  "all",
	Usage: "Vet and run every test",
	Deps:  goyek.Deps{vet, testAll},
})

func main() {
	goyek.SetDefault(test)
	goyek.Main(os.Args[1:])
}
