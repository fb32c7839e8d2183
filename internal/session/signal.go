package session

import "vibration-monitor/internal/models"

const (
	messageNoSignal = "No samples received yet. Check that the sensor is powered and connected."
	messageFlat     = "WARNING: FLAT / DEAD SIGNAL. The sensor does not detect vibration. " +
		"Check the sensor cable, make sure the device is on and the battery is charged, " +
		"and contact a technician if the problem persists."
	messageActive = "SENSOR ACTIVE. Vibration looks reasonable, the device works normally."
)

// SignalCheck проверяет "живость" датчика по стандартному отклонению
// последних отсчетов по всем осям. Модель не требуется.
func (s *Session) SignalCheck(flatStdDev float64) models.SignalCheck {
	check := models.SignalCheck{SessionID: s.ID}
	s.View(func(st *State) {
		// окно хранит по три значения на отсчет
		check.Samples = st.Signal.Count() / 3
		check.StdDev = st.Signal.StdDev()
	})

	switch {
	case check.Samples < 1:
		check.Message = messageNoSignal
	case check.StdDev < flatStdDev:
		check.Message = messageFlat
	default:
		check.Active = true
		check.Message = messageActive
	}
	return check
}
