package conversation

const systemPrompt = "You are a customer support assistant for a marketing automation platform. " +
	"Answer using only the provided reference documents and conversation history. " +
	"Keep responses short and actionable. If the documents do not cover the question, say so " +
	"and offer to connect the customer with a human agent. Answer in the customer's language."

const (
	greetingReply = "Hello! Welcome to our support center. How can I help you today?"

	noResultsReply = "I could not find information about that in our knowledge base. " +
		"Could you rephrase your question, or would you like me to connect you with a human agent?"

	accountReply = "Account changes need to be handled by our support team for your security. " +
		"I'm connecting you with an agent who can verify your identity and help right away."

	billingReply = "Billing and refund requests are handled by our billing team. " +
		"I'm connecting you with an agent who can look into your account securely."

	complaintReply = "I'm sorry to hear about your experience, and I understand your frustration. " +
		"I've recorded your feedback and I'm connecting you with a human agent who will follow up personally."

	farewellReply = "Thank you for contacting us. Have a great day, and feel free to reach out anytime!"

	escalationReply = "Of course — I'm connecting you with a human agent now. They'll have the full context of our conversation."

	technicalEscalationReply = "I couldn't find a solution for this issue in our knowledge base. " +
		"I'm connecting you with a technical support engineer who can dig deeper."

	apologyReply = "I'm sorry, something went wrong on our side while processing your message. " +
		"Please try again in a moment."
)
