package model

// SampleManual 内置示例手册
type SampleManual struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// SampleManuals 四份内置手术手册样例，供前端一键载入
var SampleManuals = []SampleManual{
	{
		Key:   "appendix",
		Label: "Laparoscopic Appendectomy",
		Text: `Procedure: Laparoscopic Appendectomy
1. Creation of Pneumoperitoneum: Make a small incision at the umbilicus. Insert a Veress needle to insufflate the abdomen with CO2 gas to create working space.
2. Port Placement: Insert a 10mm trocar at the umbilicus for the camera. Insert two 5mm trocars in the left lower quadrant and suprapubic region for instruments.
3. Identification of Appendix: Use a grasper to locate the cecum and trace the taenia coli to find the appendix.
4. Mesoappendix Dissection: Create a window in the mesoappendix near the base. Use an energy device to coagulate and divide the mesoappendix and appendicular artery.
5. Appendectomy: Secure the base of the appendix with endoloops or a stapler. Divide the appendix between the ligatures/staples.
6. Extraction: Place the resected appendix into a retrieval bag. Remove the bag through the umbilical port. Close incisions.`,
	},
	{
		Key:   "knee",
		Label: "Knee Arthroscopy",
		Text: `Procedure: Knee Arthroscopy
1. Portal Entry: Make two small incisions on either side of the patellar tendon. Insert the arthroscope through the lateral portal.
2. Diagnostic Sweep: Irrigate the joint with saline. Systematically inspect the suprapatellar pouch, patellofemoral joint, medial gutter, and medial compartment.
3. Meniscus Evaluation: Use a probe inserted through the medial portal to test the stability and texture of the medial meniscus.
4. Cruciate Ligament Inspection: Direct the camera into the intercondylar notch to visualize the Anterior Cruciate Ligament (ACL) and Posterior Cruciate Ligament (PCL).
5. Lateral Compartment View: Move the knee into a figure-of-four position. Inspect the lateral meniscus and lateral femoral condyle.
6. Closure: Drain excess fluid from the joint. Close the portals with nylon sutures or steri-strips.`,
	},
	{
		Key:   "cataract",
		Label: "Cataract Surgery (Phacoemulsification)",
		Text: `Procedure: Cataract Surgery (Phacoemulsification)
1. Corneal Incision: Create a clear corneal incision using a keratome blade to enter the anterior chamber.
2. Capsulorhexis: Use forceps to create a continuous curvilinear capsulorhexis (circular opening) in the anterior lens capsule.
3. Hydrodissection: Inject balanced salt solution under the capsule edge to separate the lens from the capsular bag.
4. Phacoemulsification: Insert the phaco probe to fragment the cataract lens nucleus with ultrasound energy and aspirate the pieces.
5. IOL Implantation: Inject the folded intraocular lens (IOL) into the empty capsular bag and ensure it centers correctly.
6. Hydration and Closure: Hydrate the corneal incision edges with saline to induce stromal swelling and seal the wound without sutures.`,
	},
	{
		Key:   "gallbladder",
		Label: "Laparoscopic Cholecystectomy",
		Text: `Procedure: Laparoscopic Cholecystectomy
1. Exposure: Retract the gallbladder fundus cephalad towards the right shoulder to expose Calot's triangle.
2. Dissection of Calot's Triangle: Carefully dissect the peritoneum to identify the cystic duct and cystic artery. clear fat and fibrous tissue.
3. Critical View of Safety: Conclusively identify that only two structures (cystic duct and artery) enter the gallbladder.
4. Clipping and Division: Apply titanium clips to the cystic artery and cystic duct proximally and distally, then divide them with scissors.
5. Gallbladder Detachment: Use electrocautery (hook or spatula) to dissect the gallbladder from the liver bed.
6. Retrieval and Closure: Place the gallbladder in a retrieval bag and extract through the umbilical port. Desufflate abdomen and suture incisions.`,
	},
}
