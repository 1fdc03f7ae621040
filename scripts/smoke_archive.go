//go:build integration
// +build integration

package scripts

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/orbitalgrid/orbital-insight/orbital/adapters"
	"github.com/orbitalgrid/orbital-insight/orbital/coordination"
)

func must(err error, msg string) {
	if err != nil {
		log.Fatalf("%s: %v", msg, err)
	}
}

// RunSmokeArchive exercises the embedded libsql archive end to end: open,
// migrate, write a turn and a script, read the turns back.
func RunSmokeArchive() {
	fmt.Println("Smoke test: libsql archive")
	tmp := "./smoke-archive.db"
	defer os.Remove(tmp)

	archive, err := adapters.OpenLibSQLArchive(tmp)
	must(err, "open archive")
	defer archive.Close()

	ctx := context.Background()
	must(archive.SaveTurn(ctx, coordination.ConversationTurn{
		Speaker: coordination.SpeakerUser,
		Text:    "smoke test turn",
	}), "save turn")

	must(archive.SaveScript(ctx, coordination.Script{
		Code:        "var x = 1;",
		Description: "smoke test script",
		DatasetIDs:  []string{"COPERNICUS/S2_SR_HARMONIZED"},
	}), "save script")

	turns, err := archive.RecentTurns(ctx, 10)
	must(err, "read turns")
	fmt.Printf("archive holds %d turn(s)\n", len(turns))
	if len(turns) == 0 {
		log.Fatal("expected at least one archived turn")
	}
	fmt.Println("OK")
}
