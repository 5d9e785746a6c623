package event

import (
	"math"
	"math/rand/v2"

	"barrage/internal/domain"
)

const (
	// launchDistance is how far behind the landing point projectiles start.
	launchDistance = 200.0
	// projectileSpeed is the initial projectile speed.
	projectileSpeed = 25.0
)

// fallDirection is the shared descent direction of shower projectiles.
var fallDirection = domain.Vec3{X: 1, Y: -2}.Normalize()

// spawnPlan is the geometry of one shower projectile.
type spawnPlan struct {
	landing  domain.Vec3
	launch   domain.Vec3
	velocity domain.Vec3
}

// planShowerSpawn picks a landing point uniformly inside the radius disc.
func planShowerSpawn(rng *rand.Rand, origin domain.Vec3, radius float64) spawnPlan {
	r := radius * math.Sqrt(rng.Float64())
	theta := rng.Float64() * 2 * math.Pi
	landing := origin.Add(domain.Vec3{X: r * math.Cos(theta), Z: r * math.Sin(theta)})
	return spawnPlan{
		landing:  landing,
		launch:   landing.Sub(fallDirection.Scale(launchDistance)),
		velocity: fallDirection.Scale(projectileSpeed),
	}
}

// planBarrageSpawn rotates direction by random Euler angles within ±spread/2 degrees.
func planBarrageSpawn(rng *rand.Rand, origin, direction domain.Vec3, spreadDeg float64) spawnPlan {
	half := spreadDeg / 2
	angle := func() float64 { return (rng.Float64()*2 - 1) * half }
	dir := rotateEuler(direction.Normalize(), angle(), angle(), angle())
	return spawnPlan{
		landing:  origin,
		launch:   origin,
		velocity: dir.Scale(projectileSpeed),
	}
}

// rotateEuler applies Z, then X, then Y rotations (degrees) to v.
func rotateEuler(v domain.Vec3, xDeg, yDeg, zDeg float64) domain.Vec3 {
	sx, cx := math.Sincos(xDeg * math.Pi / 180)
	sy, cy := math.Sincos(yDeg * math.Pi / 180)
	sz, cz := math.Sincos(zDeg * math.Pi / 180)

	v = domain.Vec3{X: v.X*cz - v.Y*sz, Y: v.X*sz + v.Y*cz, Z: v.Z}
	v = domain.Vec3{X: v.X, Y: v.Y*cx - v.Z*sx, Z: v.Y*sx + v.Z*cx}
	return domain.Vec3{X: v.X*cy + v.Z*sy, Y: v.Y, Z: -v.X*sy + v.Z*cy}
}

// randomOrigin picks a point in ±(mapSize/2 - margin) on both horizontal axes.
func randomOrigin(rng *rand.Rand, mapSize, margin float64) domain.Vec3 {
	extent := mapSize/2 - margin
	if extent <= 0 {
		return domain.Vec3{}
	}
	return domain.Vec3{
		X: (rng.Float64()*2 - 1) * extent,
		Z: (rng.Float64()*2 - 1) * extent,
	}
}

// incendiary rolls the 1/fireChance incendiary odds.
func incendiary(rng *rand.Rand, fireChance int) bool {
	if fireChance <= 0 {
		return false
	}
	return rng.IntN(fireChance) == 0
}

// dropAmount draws int(rand[min,max) × multiplier).
func dropAmount(rng *rand.Rand, drop domain.Drop, multiplier float64) int {
	base := drop.Min
	if drop.Max > drop.Min {
		base += rng.IntN(drop.Max - drop.Min)
	}
	return int(float64(base) * multiplier)
}
