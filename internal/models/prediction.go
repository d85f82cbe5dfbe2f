package models

import "time"

// PredictionPoint 预测曲线上的一个点
type PredictionPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Level     float64   `json:"level"`
}

// Prediction 电量趋势预测：从当前点到充满/耗尽点的两点直线
type Prediction struct {
	Points  [2]PredictionPoint `json:"points"`
	Label   string             `json:"label"`
	Minutes float64            `json:"minutes"`
}
