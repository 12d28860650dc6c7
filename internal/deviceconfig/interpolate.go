package deviceconfig

// GyroBiasAt returns the factory gyro bias for temperatureC, linearly
// interpolated against the device's temperature-sorted bias table. Below
// the lowest sampled temperature it clamps to the first entry; above the
// highest it clamps to the last. GyroBiasTempData is guaranteed non-empty
// and non-decreasing by Parse, so this never needs to handle the empty
// case.
func (c *IMUConfig) GyroBiasAt(temperatureC float64) Vec3 {
	table := c.GyroBiasTempData
	if temperatureC <= table[0].TemperatureC {
		return table[0].Bias
	}
	last := table[len(table)-1]
	if temperatureC >= last.TemperatureC {
		return last.Bias
	}
	for i := 1; i < len(table); i++ {
		lo, hi := table[i-1], table[i]
		if temperatureC > hi.TemperatureC {
			continue
		}
		if hi.TemperatureC == lo.TemperatureC {
			return lo.Bias
		}
		frac := (temperatureC - lo.TemperatureC) / (hi.TemperatureC - lo.TemperatureC)
		return lerpVec3(lo.Bias, hi.Bias, frac)
	}
	return last.Bias
}

func lerpVec3(a, b Vec3, t float64) Vec3 {
	return Vec3{
		a[0] + (b[0]-a[0])*t,
		a[1] + (b[1]-a[1])*t,
		a[2] + (b[2]-a[2])*t,
	}
}
