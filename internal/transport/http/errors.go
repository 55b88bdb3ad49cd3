package httptransport

// 访客看到的提示（瑞典语）
const (
	MsgContactThanks    = "Tack för ditt meddelande! Vi återkommer så snart som möjligt."
	MsgContactHoneypot  = "Tack! Vi har mottagit din förfrågan."
	MsgContactThrottled = "Tack! Vi har redan mottagit din förfrågan. För att undvika spam kan du skicka igen om en liten stund."
	MsgContactFailed    = "Något gick fel. Försök igen om en stund eller ring oss direkt."

	MsgThanks             = "Tack!"
	MsgCallbackReceived   = "Din förfrågan är mottagen."
	MsgCallbackThanks     = "Din förfrågan är mottagen. Vi ringer upp dig så snart vi kan."
	MsgCallbackThrottled  = "Vi har redan mottagit din förfrågan. Om du inte hört något inom kort, ring oss gärna."
	MsgCallbackMissing    = "Fyll i både namn och telefonnummer."
	MsgCallbackFailedLead = "Oj!"
	MsgCallbackFailed     = "Något gick fel när vi skulle skicka din förfrågan. Försök igen eller ring oss direkt."
	MsgErrorLead          = "Fel:"

	MsgSubscribeSoft    = "Tack! Om din adress är giltig kommer du få framtida uppdateringar."
	MsgSubscribeInvalid = "Fyll i en giltig e-postadress."
	MsgSubscribeFailed  = "Något gick fel. Försök igen om en stund."
)

// 管理接口与回调的提示
const (
	MsgOK              = "OK"
	MsgInvalidPayload  = "ogiltig begäran"
	MsgTransportFailed = "e-post kunde inte skickas"
	MsgNotifyFailed    = "notifiering misslyckades"
	MsgInternalError   = "internt serverfel"
	MsgNotFound        = "hittades inte"
	MsgListFailed      = "kunde inte hämta listan"
)

// subscribeThanks 订阅成功提示，邮箱由模板转义
func subscribeThanks(email string) string {
	return email + " är nu anmäld för uppdateringar. Du får ett mail nästa gång vi publicerar nytt innehåll."
}
