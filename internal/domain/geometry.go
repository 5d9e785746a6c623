package domain

import (
	"fmt"
	"math"
)

// gridCells is the number of grid columns and rows over the map.
const gridCells = 26

// Vec3 is one world-space position or direction.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v+o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// Sub returns v-o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

// Scale returns v*k.
func (v Vec3) Scale(k float64) Vec3 { return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k} }

// Len returns Euclidean length.
func (v Vec3) Len() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Normalize returns unit vector with same direction; zero vector stays zero.
func (v Vec3) Normalize() Vec3 {
	length := v.Len()
	if length == 0 {
		return Vec3{}
	}
	return v.Scale(1 / length)
}

// Distance returns Euclidean distance between two points.
func (v Vec3) Distance(o Vec3) float64 { return v.Sub(o).Len() }

// GridReference renders map grid label for world position.
// Params: position with map center at origin and square map edge size.
// Returns: letter+number label such as "G7"; both axes clamped to the grid.
func GridReference(pos Vec3, mapSize float64) string {
	if mapSize <= 0 {
		return "A0"
	}
	half := mapSize / 2
	cell := mapSize / gridCells
	column := clampCell(int((pos.X + half) / cell))
	row := clampCell(int((pos.Z + half) / cell))
	return fmt.Sprintf("%c%d", rune('A'+column), row)
}

// TeleportHint renders operator teleport command for position.
// Params: world position.
// Returns: "teleportpos x y z" with one decimal per axis.
func TeleportHint(pos Vec3) string {
	return fmt.Sprintf("teleportpos %.1f %.1f %.1f", pos.X, pos.Y, pos.Z)
}

func clampCell(value int) int {
	if value < 0 {
		return 0
	}
	if value > gridCells-1 {
		return gridCells - 1
	}
	return value
}
