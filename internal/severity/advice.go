package severity

import "vibration-monitor/internal/models"

var explanations = map[models.Severity]string{
	models.SeverityNormal: "The drivetrain is in normal condition. Detected vibration is within the usual range " +
		"and shows no sign of component damage.",
	models.SeverityLight: "The drivetrain shows early signs of an anomaly. Vibration deviates slightly from " +
		"the normal condition, likely light wear on a component.",
	models.SeveritySevere: "The drivetrain needs serious attention. Vibration deviates strongly from the normal " +
		"condition, likely damage to a component.",
}

var tips = map[models.Severity]string{
	models.SeverityNormal: "Check the chain daily or weekly, add chain lubricant or chain cleaner to extend " +
		"its life, and keep measuring to catch the first deviation.",
	models.SeverityLight: "Replace the lubricant if it has not been changed for a while. If there are metal " +
		"flakes, take the vehicle to the nearest workshop before the wear gets worse.",
	models.SeveritySevere: "Take the vehicle to a workshop now, before the problem spreads to the shaft, " +
		"the transmission or the engine. Have the components disassembled for inspection.",
}

var advice = map[models.Severity]string{
	models.SeverityNormal: "CONDITION: NORMAL (HEALTHY)\n" +
		"The machine is in good shape. Vibration is within normal limits.\n\n" +
		"Maintenance advice:\n" +
		"- Keep the routine final drive oil change schedule (every 8,000 km).\n" +
		"- Check tyre pressure to keep road vibration low.\n" +
		"- No repair is needed at this time.",
	models.SeverityLight: "CONDITION: LIGHT DAMAGE (EARLY SYMPTOMS)\n" +
		"An abnormal vibration pattern indicates early wear on the transmission gears.\n\n" +
		"Repair advice:\n" +
		"- Change the final drive oil soon to lubricate the wearing gears.\n" +
		"- Avoid overloading and sudden throttle bursts.\n" +
		"- Schedule a workshop inspection within 1-2 weeks.",
	models.SeveritySevere: "CONDITION: SEVERE DAMAGE (DANGER)\n" +
		"Very rough vibration pattern. Indicates chipped gears, a broken bearing or extreme wear.\n\n" +
		"Repair advice:\n" +
		"- Do not force long rides. The risk of breakdown or lock-up is very high.\n" +
		"- Take it to an authorized workshop to open the gearbox (CVT).\n" +
		"- Budget for replacing the ratio gear set or bearings.",
}

const manualAdvice = "Contact a technician for manual analysis."

// Explanation возвращает пояснение к степени; для UNKNOWN пустая строка
func Explanation(s models.Severity) string {
	return explanations[s]
}

// Tips возвращает краткую рекомендацию для живого статуса
func Tips(s models.Severity) string {
	return tips[s]
}

// Advice возвращает рекомендацию для итогового отчета
func Advice(s models.Severity) string {
	if text, ok := advice[s]; ok {
		return text
	}
	return manualAdvice
}
