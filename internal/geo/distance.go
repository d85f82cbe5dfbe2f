package geo

import "math"

// EarthRadiusMeters 地球平均半径 (米)
const EarthRadiusMeters = 6371000.0

// DistanceMeters 使用 Haversine 公式计算两个经纬度之间的大圆距离 (米)
// 调用方需保证输入为有限值，NaN/Inf 会直接传播到结果
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
