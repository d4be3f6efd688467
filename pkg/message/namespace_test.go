package message

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope(t *testing.T) *Envelope {
	t.Helper()
	env, err := NewUserMessage(
		WithFrom("sender", partyType),
		WithTo("receiver", partyType),
		WithService(TestService),
		WithAction(TestAction),
		WithMessageProperty("p", "v"),
		WithPayloadInfo(true, []PartDescriptor{{ContentID: "a@b", MimeType: "text/plain"}}),
	).BuildEnvelope(StrictProfile())
	require.NoError(t, err)
	return env
}

// ebMS 3.0 core uses the 200704 namespace, AS4 v2.0 must not leak in
func TestEBMS3NamespaceCompliance(t *testing.T) {
	assert.Equal(t, "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/", NsEbMS)
	assert.Contains(t, DefaultRole, "200704")
	assert.Contains(t, DefaultMPC, "200704")

	xmlData, err := xml.MarshalIndent(testEnvelope(t), "", "  ")
	require.NoError(t, err)

	xmlStr := string(xmlData)
	assert.Contains(t, xmlStr, NsEbMS)
	assert.Contains(t, xmlStr, NsSOAPEnv)
	assert.NotContains(t, xmlStr, "as4/v2.0")
}

func TestEnvelope_DocumentPrefixesEbMS(t *testing.T) {
	doc, err := testEnvelope(t).Document()
	require.NoError(t, err)

	data, err := doc.WriteToBytes()
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `<eb:Messaging xmlns:eb="`+NsEbMS+`"`)
	assert.Contains(t, out, "<eb:MessageId>")
	assert.Contains(t, out, "<eb:PartInfo")
	assert.Contains(t, out, "</eb:UserMessage>")
	assert.NotContains(t, out, "<UserMessage")
	assert.NotContains(t, out, `xmlns="`+NsEbMS+`"`)
	assert.Equal(t, 1, strings.Count(out, `xmlns:eb=`))
}

func TestPrefixNamespace(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(
		`<Root xmlns="urn:other"><Messaging id="m" xmlns="urn:x"><A><B xmlns="urn:x"/></A><C xmlns=""/></Messaging></Root>`))

	PrefixNamespace(doc.Root(), "urn:x", "x")

	out, err := doc.WriteToString()
	require.NoError(t, err)
	assert.Equal(t,
		`<Root xmlns="urn:other"><x:Messaging xmlns:x="urn:x" id="m"><x:A><x:B/></x:A><C xmlns=""/></x:Messaging></Root>`,
		out)

	b := doc.FindElement("//B")
	require.NotNil(t, b)
	assert.Equal(t, "urn:x", b.NamespaceURI())
}

func TestEnvelope_DocumentRoundTrip(t *testing.T) {
	env := testEnvelope(t)
	doc, err := env.Document()
	require.NoError(t, err)

	um := FindUserMessage(doc)
	require.NotNil(t, um)
	assert.Equal(t, "eb", um.Space)
	assert.Equal(t, NsEbMS, um.NamespaceURI())

	data, err := doc.WriteToBytes()
	require.NoError(t, err)

	parsed, err := ParseEnvelope(data)
	require.NoError(t, err)

	src := env.Header.Messaging.UserMessage
	got := parsed.Messaging().UserMessage
	require.NotNil(t, got)
	assert.Equal(t, src.MessageInfo.MessageId, parsed.MessageID())
	assert.Equal(t, "sender", parsed.FromPartyID())
	assert.Equal(t, TestService, got.CollaborationInfo.Service.Value)
	assert.Equal(t, TestAction, got.CollaborationInfo.Action)
	assert.True(t, src.MessageInfo.Timestamp.Equal(got.MessageInfo.Timestamp))
	require.Len(t, got.PayloadInfo.PartInfo, 2)
	assert.Empty(t, got.PayloadInfo.PartInfo[0].Href)
	assert.Equal(t, "text/plain", got.PayloadInfo.PartInfo[1].Property(PropMimeType))
}

func TestParseEnvelope_ForeignPrefixes(t *testing.T) {
	data := `<S:Envelope xmlns:S="http://www.w3.org/2003/05/soap-envelope"
  xmlns:ns2="http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/">
  <S:Header>
    <ns2:Messaging>
      <ns2:UserMessage>
        <ns2:MessageInfo>
          <ns2:Timestamp>2024-05-01T10:00:00Z</ns2:Timestamp>
          <ns2:MessageId>foreign-1</ns2:MessageId>
        </ns2:MessageInfo>
        <ns2:PartyInfo>
          <ns2:From><ns2:PartyId>red</ns2:PartyId><ns2:Role>r</ns2:Role></ns2:From>
          <ns2:To><ns2:PartyId>blue</ns2:PartyId><ns2:Role>r</ns2:Role></ns2:To>
        </ns2:PartyInfo>
        <ns2:CollaborationInfo>
          <ns2:AgreementRef pmode="pm-7">urn:agr</ns2:AgreementRef>
          <ns2:Service>svc</ns2:Service>
          <ns2:Action>act</ns2:Action>
          <ns2:ConversationId>c</ns2:ConversationId>
        </ns2:CollaborationInfo>
      </ns2:UserMessage>
    </ns2:Messaging>
  </S:Header>
  <S:Body/>
</S:Envelope>`

	parsed, err := ParseEnvelope([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, "foreign-1", parsed.MessageID())
	assert.Equal(t, "red", parsed.FromPartyID())
	assert.Equal(t, "pm-7", parsed.PModeRef())

	um := FindUserMessage(parsed.Document)
	require.NotNil(t, um)
	assert.Equal(t, "UserMessage", um.Tag)
}

func TestParseEnvelope_Signals(t *testing.T) {
	doc := SignalEnvelope(NewError("m-1", ErrorOther, "bad"))
	tree, err := doc.Document()
	require.NoError(t, err)
	data, err := tree.WriteToBytes()
	require.NoError(t, err)
	assert.Contains(t, string(data), "<eb:Error ")

	parsed, err := ParseEnvelope(data)
	require.NoError(t, err)
	sig := parsed.Messaging().SignalMessage
	require.NotNil(t, sig)
	require.Len(t, sig.Error, 1)
	assert.Equal(t, "EBMS:0004", sig.Error[0].ErrorCode)
	assert.Equal(t, "m-1", parsed.RefToMessageID())
	assert.Empty(t, parsed.FromPartyID())
	assert.Empty(t, parsed.PModeRef())
}

func TestParseEnvelope_Failures(t *testing.T) {
	_, err := ParseEnvelope([]byte("not xml"))
	assert.Error(t, err)

	_, err = ParseEnvelope([]byte(`<Envelope xmlns="http://www.w3.org/2003/05/soap-envelope"><Body/></Envelope>`))
	assert.ErrorIs(t, err, ErrNoMessaging)

	_, err = ParseEnvelope([]byte(`<Envelope xmlns="http://www.w3.org/2003/05/soap-envelope"><Header><Messaging xmlns="` + NsEbMS + `"/></Header></Envelope>`))
	assert.ErrorIs(t, err, ErrNoMessaging)
	assert.True(t, strings.Contains(ErrNoMessaging.Error(), "Messaging"))
}
