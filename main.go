package main

import (
	"fmt"
	"os"

	"github.com/sanity-io/litter"

	"github.com/kevinxiao27/wavesync/internal/replica"
	"github.com/kevinxiao27/wavesync/internal/sequencer"
	"github.com/kevinxiao27/wavesync/internal/transport"
	"github.com/kevinxiao27/wavesync/internal/types"
)

const name = "wave://demo"

type peer struct {
	*replica.Replica
	link *transport.Loopback
}

func join(server *sequencer.Server, author types.Author) (*peer, error) {
	p := &peer{
		Replica: replica.New(nil, author, types.InitialVersion(name)),
		link:    transport.NewLoopback(),
	}
	if err := p.Attach(p.link); err != nil {
		return nil, err
	}
	if err := p.link.Connect(server, p.Control().ReconnectionVersions()); err != nil {
		return nil, err
	}
	_, err := p.link.Pump(p.Control())
	return p, err
}

// exchange moves messages until both links are quiet.
func exchange(peers ...*peer) error {
	for {
		moved := 0
		for _, p := range peers {
			moved += p.link.Flush()
			n, err := p.link.Pump(p.Control())
			if err != nil {
				return err
			}
			moved += n
		}
		if moved == 0 {
			return nil
		}
	}
}

func run() error {
	server, err := sequencer.New(nil, name, sequencer.NewMemoryStore(), nil)
	if err != nil {
		return err
	}
	a, err := join(server, "a")
	if err != nil {
		return err
	}
	z, err := join(server, "z")
	if err != nil {
		return err
	}

	// Concurrent edits, neither side has seen the other's.
	if err := a.Insert("main", 0, "hi"); err != nil {
		return err
	}
	if err := z.Insert("main", 0, "yoooo"); err != nil {
		return err
	}
	if err := z.Delete("main", 1, 3); err != nil {
		return err
	}
	if err := exchange(a, z); err != nil {
		return err
	}
	if err := server.Commit(); err != nil {
		return err
	}
	if err := exchange(a, z); err != nil {
		return err
	}

	result1, result2 := a.Text("main"), z.Text("main")
	fmt.Printf("Result a: '%s'\n", result1)
	fmt.Printf("Result z: '%s'\n", result2)
	if result1 == result2 {
		fmt.Println("Replicas match")
	} else {
		fmt.Println("Replicas differ")
		for i := 0; i < len(result1) && i < len(result2); i++ {
			if result1[i] != result2[i] {
				fmt.Printf("Position %d differs: a=%q, z=%q\n", i, result1[i], result2[i])
			}
		}
	}

	fmt.Println(litter.Sdump(server.Head(), a.Control().UnsavedData()))
	fmt.Println(a.Control().String())
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
