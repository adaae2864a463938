package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// DescribeFrame renders a frame for humans, one line per payload entry.
func DescribeFrame(f Frame) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s object=%s tick=%d\n", f.Kind, f.Object, f.Tick)
	switch f.Kind {
	case FrameSpawn:
		s, err := f.Spawn()
		if err != nil {
			fmt.Fprintf(&b, "  error: %v\n", err)
			break
		}
		x := s.Transform
		fmt.Fprintf(&b, "  definition %s\n", s.Definition)
		fmt.Fprintf(&b, "  yaw %d\n", s.YawSteps)
		fmt.Fprintf(&b, "  position %g %g %g\n", x[0], x[1], x[2])
		fmt.Fprintf(&b, "  rotation %g %g %g %g\n", x[3], x[4], x[5], x[6])
		fmt.Fprintf(&b, "  scale %g %g %g\n", x[7], x[8], x[9])
	case FrameFields:
		snap, err := f.Fields()
		if err != nil {
			fmt.Fprintf(&b, "  error: %v\n", err)
			break
		}
		for _, e := range snap.Entries {
			fmt.Fprintf(&b, "  %s %s\n", e.ID, hex.EncodeToString(e.Data))
		}
	case FrameSeats:
		snap, err := f.Seats()
		if err != nil {
			fmt.Fprintf(&b, "  error: %v\n", err)
			break
		}
		if len(snap.Pairs) == 0 {
			b.WriteString("  (empty)\n")
		}
		for _, p := range snap.Pairs {
			fmt.Fprintf(&b, "  seat %d %s\n", p.Seat, p.Occupant)
		}
	}
	return b.String()
}
